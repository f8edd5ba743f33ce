package shell

import (
	"os/exec"
	"strings"
	"testing"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"", "''"},
		{"a b", "'a b'"},
		{"it's", `'it'"'"'s'`},
		{"$(reboot)", "'$(reboot)'"},
	}

	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuoteRoundTripsThroughBash(t *testing.T) {
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not available")
	}

	values := []string{"plain", "with space", "it's", "`id`", "$HOME", "line\nbreak", "*"}
	for _, v := range values {
		out, err := exec.Command(bash, "-c", "printf '%s' "+Quote(v)).Output()
		if err != nil {
			t.Fatalf("bash failed for %q: %v", v, err)
		}
		if string(out) != v {
			t.Errorf("round trip of %q gave %q", v, out)
		}
	}
}

func TestEscapeBRE(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", `example\.com`},
		{"*.example.com", `\*\.example\.com`},
		{"a/b", `a\/b`},
		{"[x]^$", `\[x\]\^\$`},
	}

	for _, tt := range tests {
		if got := EscapeBRE(tt.in); got != tt.want {
			t.Errorf("EscapeBRE(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTemplateRender(t *testing.T) {
	tmpl := MustParse("zone", `cat {{ q .Path }} | grep {{ q .Name }}
{{ indent 4 (join "\n" .Lines) }}`)

	got, err := tmpl.Render(map[string]any{
		"Path":  "/etc/bind/db.it's",
		"Name":  "a b",
		"Lines": []string{"one;", "two;"},
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	want := `cat '/etc/bind/db.it'"'"'s' | grep 'a b'
    one;
    two;`
	if got != want {
		t.Errorf("render mismatch:\n got: %s\nwant: %s", got, want)
	}
}

func TestTemplateMissingKey(t *testing.T) {
	tmpl := MustParse("missing", `echo {{ q .Nope }}`)
	if _, err := tmpl.Render(map[string]any{}); err == nil || !strings.Contains(err.Error(), "Nope") {
		t.Errorf("expected missing key error, got %v", err)
	}
}

func TestParseError(t *testing.T) {
	if _, err := Parse("bad", "{{ .Unclosed "); err == nil {
		t.Error("expected parse error")
	}
}
