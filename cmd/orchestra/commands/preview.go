package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/hostpanel/orchestra/pkg/orchestration"
)

// previewBucket is the JSON form of one compiled bucket.
type previewBucket struct {
	Backend  string            `json:"backend"`
	Server   string            `json:"server"`
	Script   string            `json:"script,omitempty"`
	Diff     string            `json:"diff,omitempty"`
	Contexts []instanceContext `json:"contexts,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type instanceContext struct {
	Instance string `json:"instance"`
	Action   string `json:"action"`
	Context  any    `json:"context"`
}

func newPreviewCommand() *cobra.Command {
	var (
		showDiff    bool
		showContext bool
		deletes     bool
	)

	cmd := &cobra.Command{
		Use:   "preview [KIND:ID...]",
		Short: "Compile scripts without running them",
		Long: `Build, route and compile the scripts a transaction would run, and print
them. Nothing is executed and zone serials are not advanced.

With --diff each script is compared with the last one logged for the same
backend and server. With --context the template context of every instance is
printed as JSON instead of the script.`,
		Example: `  # Preview saving the whole inventory
  orchestra preview

  # What would change on the DNS master for one domain
  orchestra preview --diff domain:example.com

  # Inspect the values a website renders with
  orchestra preview --context website:shop`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.loadInventory(ctx); err != nil {
				return err
			}
			action := orchestration.ActionSave
			if deletes {
				action = orchestration.ActionDelete
			}
			changes, err := selectChanges(a.catalog.Snapshot(), args, action)
			if err != nil {
				return err
			}

			plan, compiled, compileErrs := a.manager.Preview(ctx, changes...)
			buckets, err := previewBuckets(ctx, a.store, compiled, compileErrs, showDiff, showContext)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, buckets)
			}
			printPreview(out, buckets, showDiff, showContext)
			if err := plan.Err(); err != nil {
				return err
			}
			if len(compileErrs) > 0 {
				return fmt.Errorf("%d bucket(s) failed to compile", len(compileErrs))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showDiff, "diff", false, "show a unified diff against the last logged script")
	cmd.Flags().BoolVar(&showContext, "context", false, "print the template context of each instance")
	cmd.Flags().BoolVar(&deletes, "delete", false, "preview deletion instead of saving")

	return cmd
}

func previewBuckets(ctx context.Context, logs orchestration.LogStore, compiled []*orchestration.Compiled, compileErrs map[string]error, showDiff, showContext bool) ([]previewBucket, error) {
	var out []previewBucket
	for _, c := range compiled {
		pb := previewBucket{
			Backend: c.Bucket.Backend.Name,
			Server:  c.Bucket.Server.Name,
			Script:  c.Text(),
		}
		if showDiff {
			var previous *orchestration.BackendLog
			last, err := logs.LastLog(ctx, pb.Backend, pb.Server)
			switch {
			case err == nil:
				previous = last
			case !errors.Is(err, orchestration.ErrNotFound):
				return nil, err
			}
			diff, err := scriptDiff(previous, pb.Script)
			if err != nil {
				return nil, err
			}
			pb.Diff = diff
		}
		if showContext {
			contexts, err := bucketContexts(ctx, c.Bucket)
			if err != nil {
				return nil, err
			}
			pb.Contexts = contexts
		}
		out = append(out, pb)
	}

	keys := make([]string, 0, len(compileErrs))
	for key := range compileErrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pb := previewBucket{Backend: key, Error: compileErrs[key].Error()}
		if i := strings.LastIndex(key, "@"); i >= 0 {
			pb.Backend, pb.Server = key[:i], key[i+1:]
		}
		out = append(out, pb)
	}
	return out, nil
}

// scriptDiff returns the unified diff from the script of previous, which may be
// nil, to script.
func scriptDiff(previous *orchestration.BackendLog, script string) (string, error) {
	from, old := "/dev/null", ""
	if previous != nil {
		from = fmt.Sprintf("log %d (%s)", previous.ID, previous.State)
		old = previous.Script
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(old),
		B:        difflib.SplitLines(script),
		FromFile: from,
		ToFile:   "preview",
		Context:  3,
	})
}

// bucketContexts asks a fresh controller for the context of every operation.
func bucketContexts(ctx context.Context, bucket *orchestration.Bucket) ([]instanceContext, error) {
	provider, ok := bucket.Backend.NewController().(orchestration.ContextProvider)
	if !ok {
		return nil, nil
	}
	var out []instanceContext
	for _, op := range bucket.Operations {
		v, err := provider.Context(ctx, op.Instance)
		if err != nil {
			return nil, fmt.Errorf("failed to build context of %s: %w", orchestration.RefOf(op.Instance), err)
		}
		out = append(out, instanceContext{
			Instance: orchestration.RefOf(op.Instance).String(),
			Action:   string(op.Action),
			Context:  v,
		})
	}
	return out, nil
}

func printPreview(w io.Writer, buckets []previewBucket, showDiff, showContext bool) {
	if len(buckets) == 0 {
		fmt.Fprintln(w, "No scripts to run")
		return
	}
	for _, pb := range buckets {
		fmt.Fprintf(w, "### %s@%s\n", pb.Backend, pb.Server)
		switch {
		case pb.Error != "":
			fmt.Fprintf(w, "compile error: %s\n", pb.Error)
		case showContext:
			_ = printJSON(w, pb.Contexts)
		case showDiff && pb.Diff == "":
			fmt.Fprintln(w, "no changes since the last run")
		case showDiff:
			fmt.Fprint(w, pb.Diff)
		default:
			fmt.Fprint(w, pb.Script)
		}
		fmt.Fprintln(w)
	}
}
