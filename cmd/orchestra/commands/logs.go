package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostpanel/orchestra/pkg/orchestration"
)

func newLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect backend logs",
		Long: `Every script run is recorded as a backend log holding the script, its
output, the exit code and the instances it touched.`,
	}

	cmd.AddCommand(newLogsListCommand())
	cmd.AddCommand(newLogsShowCommand())

	return cmd
}

func newLogsListCommand() *cobra.Command {
	var (
		state   string
		backend string
		server  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backend logs, newest first",
		Example: `  orchestra logs list
  orchestra logs list --state FAILURE --backend bind9-master
  orchestra logs list --server ns2 --limit 5 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := orchestration.LogFilter{Backend: backend, Server: server, Limit: limit}
			if state != "" {
				s, err := orchestration.ParseState(state)
				if err != nil {
					return err
				}
				filter.State = s
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			logs, err := a.store.ListLogs(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list logs: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, logs)
			}
			return printLogs(out, logs)
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "only logs in this state")
	cmd.Flags().StringVar(&backend, "backend", "", "only logs of this backend")
	cmd.Flags().StringVar(&server, "server", "", "only logs of this server")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of logs, 0 for all")

	return cmd
}

func printLogs(w io.Writer, logs []*orchestration.BackendLog) error {
	if len(logs) == 0 {
		fmt.Fprintln(w, "No backend logs")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tBACKEND\tSERVER\tCREATED\tEXIT\tDURATION\tSTATE")
	for _, l := range logs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, l.Backend, l.Server, ago(l.CreatedAt), exitCode(l.ExitCode), duration(l.ExecutionTime), stateLabel(w, l.State))
	}
	return tw.Flush()
}

// logDetail is the JSON form of logs show.
type logDetail struct {
	*orchestration.BackendLog
	Operations []operationDetail `json:"operations"`
}

type operationDetail struct {
	Action   orchestration.Action `json:"action"`
	Instance string               `json:"instance"`
	Display  string               `json:"display"`
}

func newLogsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show LOG_ID",
		Short: "Show a backend log with its script and output",
		Example: `  orchestra logs show 42
  orchestra logs show 42 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLogID(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			// operations display as deleted when the inventory cannot be read
			if _, err := a.loadInventory(ctx); err != nil {
				a.tel.Logger.WithError(err).Debug("Inventory not loaded")
			}

			detail, err := describeLog(ctx, a, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, detail)
			}
			printLogDetail(out, detail)
			return nil
		},
	}

	return cmd
}

func parseLogID(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid log id %q", v)
	}
	return id, nil
}

func describeLog(ctx context.Context, a *app, id int64) (*logDetail, error) {
	l, err := a.store.GetLog(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get log %d: %w", id, err)
	}
	ops, err := a.oplog.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations of log %d: %w", id, err)
	}
	detail := &logDetail{BackendLog: l, Operations: make([]operationDetail, 0, len(ops))}
	for _, op := range ops {
		detail.Operations = append(detail.Operations, operationDetail{
			Action:   op.Action,
			Instance: op.Instance.String(),
			Display:  a.oplog.Display(ctx, op),
		})
	}
	return detail, nil
}

func printLogDetail(w io.Writer, d *logDetail) {
	tw := newTable(w)
	fmt.Fprintf(tw, "Log:\t%d\n", d.ID)
	fmt.Fprintf(tw, "Backend:\t%s\n", d.Backend)
	fmt.Fprintf(tw, "Server:\t%s\n", d.Server)
	fmt.Fprintf(tw, "State:\t%s\n", stateLabel(w, d.State))
	fmt.Fprintf(tw, "Exit code:\t%s\n", exitCode(d.ExitCode))
	fmt.Fprintf(tw, "Task:\t%s\n", d.TaskID)
	fmt.Fprintf(tw, "Created:\t%s (%s)\n", d.CreatedAt.Local().Format(time.RFC3339), ago(d.CreatedAt))
	fmt.Fprintf(tw, "Duration:\t%s\n", duration(d.ExecutionTime))
	_ = tw.Flush()

	if len(d.Operations) > 0 {
		fmt.Fprintln(w, "\nOperations:")
		for _, op := range d.Operations {
			fmt.Fprintf(w, "  %-6s %s\n", op.Action, op.Display)
		}
	}

	section(w, "Script", d.Script)
	section(w, "Stdout", d.Stdout)
	section(w, "Stderr", d.Stderr)
	section(w, "Traceback", d.Traceback)
}

func section(w io.Writer, title, body string) {
	if body == "" {
		return
	}
	fmt.Fprintf(w, "\n%s:\n%s", title, body)
	if !strings.HasSuffix(body, "\n") {
		fmt.Fprintln(w)
	}
}
