package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hostpanel/orchestra/pkg/telemetry"
)

// Router resolves the target servers of a (backend, instance) pair by evaluating
// the active routes of the backend in stored order.
type Router struct {
	source  RouteSource
	matcher *MatchEvaluator
	logger  *telemetry.Logger
}

// NewRouter creates a new router over a route source.
func NewRouter(source RouteSource, logger *telemetry.Logger) *Router {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Router{
		source:  source,
		matcher: NewMatchEvaluator(0),
		logger:  logger.NewComponentLogger("router"),
	}
}

// GetServers returns the servers an operation must run on.
func (r *Router) GetServers(ctx context.Context, op *Operation) ([]Server, error) {
	return r.Servers(ctx, op.Backend, op.Instance)
}

// Servers returns the ordered servers for backend and inst. Single-server backends
// get the first matching route; multi-server backends get every match, without
// duplicates. When nothing matches the backend fallback is used, otherwise a
// NoRouteError is returned.
func (r *Router) Servers(ctx context.Context, backend *Backend, inst Instance) ([]Server, error) {
	routes, err := r.source.ListRoutes(ctx, backend.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes for %s: %w", backend.Name, err)
	}
	sortRoutes(routes)

	var servers []Server
	seen := make(map[string]bool)
	for _, route := range routes {
		if !route.IsActive || route.Backend != backend.Name || seen[route.Host] {
			continue
		}
		ok, err := r.matcher.Matches(ctx, route.Match, inst)
		if err != nil {
			r.logger.WithFields(map[string]interface{}{
				"route_id": route.ID,
				"backend":  backend.Name,
				"instance": RefOf(inst).String(),
			}).WithError(err).Warn("Route match failed, skipping route")
			continue
		}
		if !ok {
			continue
		}
		server, err := r.source.GetServer(ctx, route.Host)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				r.logger.WithField("host", route.Host).Warn("Route points to an unknown server, skipping route")
				continue
			}
			return nil, fmt.Errorf("failed to get server %s: %w", route.Host, err)
		}
		seen[route.Host] = true
		servers = append(servers, *server)
		if !backend.Multiple {
			break
		}
	}

	if len(servers) > 0 {
		return servers, nil
	}

	if backend.Fallback != "" {
		server, err := r.source.GetServer(ctx, backend.Fallback)
		if err != nil {
			return nil, NewNoRouteError(backend.Name, RefOf(inst)).
				WithCode(ErrCodeUnknownServer).
				WithDetail("fallback", backend.Fallback)
		}
		return []Server{*server}, nil
	}

	return nil, NewNoRouteError(backend.Name, RefOf(inst))
}

// sortRoutes orders routes by (position, id), the stored order.
func sortRoutes(routes []Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].Position != routes[j].Position {
			return routes[i].Position < routes[j].Position
		}
		return routes[i].ID < routes[j].ID
	})
}
