package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/hostpanel/orchestra/pkg/orchestration"
)

// ANSI sequences of the state colours.
var ansiColors = map[string]string{
	"darkorange": "\033[38;5;208m",
	"blue":       "\033[34m",
	"green":      "\033[32m",
	"red":        "\033[31m",
	"magenta":    "\033[35m",
}

const ansiReset = "\033[0m"

func colorEnabled(w io.Writer) bool {
	if noColor || jsonOutput || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// stateLabel renders a state in its listing colour.
func stateLabel(w io.Writer, s orchestration.State) string {
	if !colorEnabled(w) {
		return string(s)
	}
	return ansiColors[s.Color()] + string(s) + ansiReset
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func exitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprint(*code)
}

func duration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
