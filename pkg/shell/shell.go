// Package shell renders shell fragments with every substituted value quoted.
package shell

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/alessio/shellescape"
)

// Quote returns v as a single shell word.
func Quote(v string) string {
	return shellescape.Quote(v)
}

// QuoteAll quotes every value and joins them with spaces.
func QuoteAll(values ...string) string {
	return shellescape.QuoteCommand(values)
}

var breSpecial = regexp.MustCompile(`[][\\.*^$/]`)

// EscapeBRE escapes v for literal use inside a sed basic regular expression
// delimited by '/'.
func EscapeBRE(v string) string {
	return breSpecial.ReplaceAllString(v, `\$0`)
}

// Funcs are the template functions available to fragments:
//
//	q       quote a value as one shell word
//	bre     escape a value for a sed regex
//	join    join a string slice with a separator
//	indent  indent every line of a block
var Funcs = template.FuncMap{
	"q":   Quote,
	"bre": EscapeBRE,
	"join": func(sep string, values []string) string {
		return strings.Join(values, sep)
	},
	"indent": func(n int, v string) string {
		pad := strings.Repeat(" ", n)
		lines := strings.Split(v, "\n")
		for i, l := range lines {
			if l != "" {
				lines[i] = pad + l
			}
		}
		return strings.Join(lines, "\n")
	},
}

// Template is a parsed fragment template.
type Template struct {
	tmpl *template.Template
}

// Parse parses a fragment template. Missing keys are errors.
func Parse(name, text string) (*Template, error) {
	t, err := template.New(name).Funcs(Funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return &Template{tmpl: t}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(name, text string) *Template {
	t, err := Parse(name, text)
	if err != nil {
		panic(err)
	}
	return t
}

// Render executes the template with data.
func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", t.tmpl.Name(), err)
	}
	return buf.String(), nil
}
