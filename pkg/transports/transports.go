// Package transports selects how a script reaches its server.
package transports

import (
	"context"
	"fmt"

	"github.com/hostpanel/orchestra/pkg/orchestration"
)

// Dispatcher runs scripts for local servers with Local and for every other
// server with Remote.
type Dispatcher struct {
	Local  orchestration.Transport
	Remote orchestration.Transport
}

var _ orchestration.Transport = (*Dispatcher)(nil)

// Run implements orchestration.Transport.
func (d *Dispatcher) Run(ctx context.Context, server orchestration.Server, script string) (*orchestration.ExecResult, error) {
	t := d.Remote
	if server.IsLocal() {
		t = d.Local
	}
	if t == nil {
		return nil, fmt.Errorf("no transport for server %s (%s)", server.Name, server.Address)
	}
	return t.Run(ctx, server, script)
}
