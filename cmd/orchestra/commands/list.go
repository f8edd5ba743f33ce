package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hostpanel/orchestra/pkg/orchestration"
)

func newServersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect servers",
	}
	cmd.AddCommand(newServersListCommand())
	return cmd
}

func newRoutesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect the route table",
	}
	cmd.AddCommand(newRoutesListCommand())
	return cmd
}

func newBackendsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "Inspect registered backends",
	}
	cmd.AddCommand(newBackendsListCommand())
	return cmd
}

func newServersListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List servers known to the database",
		Long: `List the servers synced from the inventory by the last apply or serve.
Servers without an address, or with a loopback one, run scripts locally.`,
		Example: `  orchestra servers list
  orchestra servers list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			servers, err := a.store.ListServers(ctx)
			if err != nil {
				return fmt.Errorf("failed to list servers: %w", err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, servers)
			}
			return printServers(out, servers)
		},
	}

	return cmd
}

func printServers(w io.Writer, servers []orchestration.Server) error {
	if len(servers) == 0 {
		fmt.Fprintln(w, "No servers")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tADDRESS\tOS\tTRANSPORT")
	for _, s := range servers {
		transport := "ssh"
		if s.IsLocal() {
			transport = "local"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, orDash(s.Address), orDash(s.OS), transport)
	}
	return tw.Flush()
}

// routeRow is a route as listed, with the availability of its backend.
type routeRow struct {
	orchestration.Route
	Available bool `json:"available"`
}

func newRoutesListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the route table",
		Long: `List routes in evaluation order. A route whose backend is not registered
is shown as NOT AVAILABLE and never matches.`,
		Example: `  orchestra routes list`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			routes, err := a.store.ListAllRoutes(ctx)
			if err != nil {
				return fmt.Errorf("failed to list routes: %w", err)
			}
			rows := make([]routeRow, 0, len(routes))
			for _, r := range routes {
				_, ok := a.registry.Get(r.Backend)
				rows = append(rows, routeRow{Route: r, Available: ok})
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, rows)
			}
			return printRoutes(out, rows)
		},
	}

	return cmd
}

func printRoutes(w io.Writer, rows []routeRow) error {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No routes")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tBACKEND\tHOST\tPOSITION\tACTIVE\tMATCH")
	for _, r := range rows {
		backend := r.Backend
		if !r.Available {
			backend += " (NOT AVAILABLE)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%t\t%s\n", r.ID, backend, r.Host, r.Position, r.IsActive, orDash(r.Match))
	}
	return tw.Flush()
}

// backendInfo is the listed form of a registered backend.
type backendInfo struct {
	Name              string                 `json:"name"`
	VerboseName       string                 `json:"verbose_name"`
	Model             string                 `json:"model"`
	Related           []string               `json:"related,omitempty"`
	Actions           []orchestration.Action `json:"actions"`
	Multiple          bool                   `json:"multiple"`
	Mandatory         bool                   `json:"mandatory"`
	DefaultRouteMatch string                 `json:"default_route_match"`
}

func newBackendsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List registered backends",
		Example: `  orchestra backends list`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			infos := describeBackends(a.registry.List())
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, infos)
			}
			return printBackends(out, infos)
		},
	}

	return cmd
}

func describeBackends(backends []*orchestration.Backend) []backendInfo {
	infos := make([]backendInfo, 0, len(backends))
	for _, b := range backends {
		info := backendInfo{
			Name:              b.Name,
			VerboseName:       b.VerboseName,
			Model:             b.Model,
			Actions:           b.Actions(),
			Multiple:          b.Multiple,
			Mandatory:         b.Mandatory,
			DefaultRouteMatch: b.DefaultRouteMatch,
		}
		for _, rel := range b.Related {
			info.Related = append(info.Related, rel.Kind)
		}
		infos = append(infos, info)
	}
	return infos
}

func printBackends(w io.Writer, infos []backendInfo) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION\tMODEL\tRELATED\tACTIONS\tDEFAULT MATCH")
	for _, b := range infos {
		actions := make([]string, 0, len(b.Actions))
		for _, act := range b.Actions {
			actions = append(actions, string(act))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			b.Name, b.VerboseName, b.Model, orDash(strings.Join(b.Related, ",")),
			strings.Join(actions, ","), orDash(b.DefaultRouteMatch))
	}
	return tw.Flush()
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
