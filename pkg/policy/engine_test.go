package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/hostpanel/orchestra/pkg/orchestration"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
		if !p.Builtin {
			t.Errorf("policy %s is not marked built-in", p.Name)
		}
	}
	want := []string{"destructive-commands", "privilege-escalation", "remote-code", "script-size"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("built-in policies mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name       string
		fragments  []string
		allowed    bool
		violations []string
		warnings   []string
	}{
		{
			name:      "zone update",
			fragments: []string{"mkdir -p /etc/bind/master\nrm -f /etc/bind/master/*.example.com"},
			allowed:   true,
		},
		{
			name:       "rm -rf /",
			fragments:  []string{"echo ok", "rm -rf /"},
			violations: []string{"destructive-commands"},
		},
		{
			name:       "rm -r -f /*",
			fragments:  []string{"rm -r -f /* ; echo done"},
			violations: []string{"destructive-commands"},
		},
		{
			name:      "rm -rf of a subdirectory",
			fragments: []string{"rm -rf /var/cache/orchestra"},
			allowed:   true,
		},
		{
			name:       "mkfs",
			fragments:  []string{"mkfs.ext4 /dev/sdb1"},
			violations: []string{"destructive-commands"},
		},
		{
			name:       "dd onto a disk",
			fragments:  []string{"dd if=/dev/zero of=/dev/sda bs=1M"},
			violations: []string{"destructive-commands"},
		},
		{
			name:       "curl into bash",
			fragments:  []string{"curl -fsSL https://example.com/install.sh | bash"},
			violations: []string{"remote-code"},
		},
		{
			name:      "sudo",
			fragments: []string{"sudo service bind9 reload"},
			allowed:   true,
			warnings:  []string{"privilege-escalation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := &Input{
				Backend:   "dns-master",
				Server:    InputServer{Name: "ns1"},
				Script:    strings.Join(tt.fragments, "\n"),
				Fragments: tt.fragments,
			}
			result, err := eng.Evaluate(context.Background(), input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Errorf("Expected allowed=%v, got %v: %+v", tt.allowed, result.Allowed, result.Violations)
			}
			if diff := cmp.Diff(tt.violations, policyNames(result.Violations)); diff != "" {
				t.Errorf("violations mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.warnings, policyNames(result.Warnings)); diff != "" {
				t.Errorf("warnings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func policyNames(vs []Violation) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.Policy)
	}
	return out
}

func TestViolationFragment(t *testing.T) {
	eng := newTestEngine(t)
	result, err := eng.Evaluate(context.Background(), &Input{
		Fragments: []string{"echo ok", "echo ok", "wget -qO- http://example.com/x | sh"},
	})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(result.Violations) != 1 {
		t.Fatalf("Expected 1 violation, got %+v", result.Violations)
	}
	if got := result.Violations[0].Fragment; got != 2 {
		t.Errorf("Expected fragment 2, got %d", got)
	}
	if got := result.Violations[0].Severity; got != SeverityError {
		t.Errorf("Expected severity error, got %s", got)
	}
}

func TestCheckScript(t *testing.T) {
	eng := newTestEngine(t)
	check := orchestration.ScriptCheck{
		Backend:   "apache2",
		Server:    orchestration.Server{Name: "web1", Address: "192.0.2.30"},
		Fragments: []string{"rm -rf /"},
		Actions:   []orchestration.Action{orchestration.ActionDelete},
	}

	err := eng.CheckScript(context.Background(), check)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("Expected DeniedError, got %v", err)
	}
	if denied.Backend != "apache2" || denied.Server != "web1" {
		t.Errorf("Unexpected denial target: %+v", denied)
	}
	if !strings.Contains(err.Error(), "destructive-commands") {
		t.Errorf("Error does not name the policy: %v", err)
	}

	if err := eng.DisablePolicy("destructive-commands"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	if err := eng.CheckScript(context.Background(), check); err != nil {
		t.Errorf("Disabled policy still denies: %v", err)
	}
	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error disabling an unknown policy")
	}
}

func TestReplace(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:     "no-local-deletes",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package custom.deletes

import rego.v1

deny contains "deletes must run remotely" if {
	input.server.local
	"delete" in input.actions
}`,
	}
	if err := eng.Replace(ctx, []Policy{custom}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	local := orchestration.ScriptCheck{
		Backend: "apache2",
		Server:  orchestration.Server{Name: "localhost"},
		Actions: []orchestration.Action{orchestration.ActionDelete},
	}
	if err := eng.CheckScript(ctx, local); err == nil {
		t.Error("Expected the custom policy to deny a local delete")
	}
	local.Actions = []orchestration.Action{orchestration.ActionSave}
	if err := eng.CheckScript(ctx, local); err != nil {
		t.Errorf("Custom policy denied a save: %v", err)
	}

	if err := eng.Replace(ctx, nil); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if _, err := eng.GetPolicy("no-local-deletes"); err == nil {
		t.Error("Replaced policy is still loaded")
	}
	if _, err := eng.GetPolicy("script-size"); err != nil {
		t.Errorf("Built-in policy lost: %v", err)
	}

	broken := Policy{Name: "broken", Rego: "package broken\n\ndeny contains x if {"}
	if err := eng.Replace(ctx, []Policy{broken}); err == nil {
		t.Error("Expected a compile error")
	}
}

func TestOverrideBuiltin(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	relaxed := Policy{
		Name:     "privilege-escalation",
		Severity: SeverityInfo,
		Enabled:  true,
		Rego:     "package custom.none\n\nimport rego.v1\n\ndeny contains \"never\" if {\n\tinput.never_set\n}",
	}
	if err := eng.Replace(ctx, []Policy{relaxed}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	result, err := eng.Evaluate(ctx, &Input{Fragments: []string{"sudo true"}})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Expected the override to silence warnings, got %+v", result.Warnings)
	}

	if err := eng.Replace(ctx, nil); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	p, err := eng.GetPolicy("privilege-escalation")
	if err != nil || !p.Builtin {
		t.Errorf("Built-in policy not restored: %+v, %v", p, err)
	}
}
