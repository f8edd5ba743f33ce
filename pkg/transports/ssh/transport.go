// Package ssh runs backend scripts on remote servers: the script is uploaded
// over SFTP and run with the configured interpreter.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/google/uuid"

	"github.com/hostpanel/orchestra/pkg/orchestration"
	"github.com/hostpanel/orchestra/pkg/shell"
	"github.com/hostpanel/orchestra/pkg/telemetry"
)

// Transport runs scripts over SSH. Connections are cached per address and
// re-established when they die.
type Transport struct {
	config *Config
	logger *telemetry.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

var _ orchestration.Transport = (*Transport)(nil)

// NewTransport creates an SSH transport.
func NewTransport(config *Config, logger *telemetry.Logger) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Transport{
		config:  config,
		logger:  logger.NewComponentLogger("transport.ssh"),
		clients: make(map[string]*Client),
	}, nil
}

// Run implements orchestration.Transport.
func (t *Transport) Run(ctx context.Context, server orchestration.Server, script string) (*orchestration.ExecResult, error) {
	host := server.Address
	if host == "" {
		host = server.Name
	}

	client, err := t.client(ctx, host)
	if err != nil {
		return nil, err
	}

	remote := path.Join(t.config.RemoteDir, "orchestra-"+uuid.NewString()+".sh")
	if err := client.Upload(ctx, []byte(script), remote, 0o700); err != nil {
		t.drop(host, err)
		return nil, fmt.Errorf("failed to upload script to %s: %w", server.Name, err)
	}

	res, err := client.Exec(ctx, t.command(remote))
	if err != nil {
		t.drop(host, err)
		if res == nil {
			return nil, err
		}
	}
	return &orchestration.ExecResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Duration: res.Duration,
	}, err
}

// command runs the script and removes it, preserving the exit status.
func (t *Transport) command(remote string) string {
	run := shell.QuoteAll(t.config.Interpreter, remote)
	if t.config.Sudo {
		run = "sudo -n " + run
	}
	return fmt.Sprintf("%s; rc=$?; rm -f %s; exit $rc", run, shell.Quote(remote))
}

func (t *Transport) client(ctx context.Context, host string) (*Client, error) {
	t.mu.Lock()
	client, ok := t.clients[host]
	if !ok {
		client = NewClient(t.config, host, t.logger)
		t.clients[host] = client
	}
	t.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		t.drop(host, err)
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	return client, nil
}

// drop forgets the cached client after a connection-level failure.
func (t *Transport) drop(host string, err error) {
	var te *TransportError
	if !errors.As(err, &te) || !te.IsTemporary {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return
		}
	}
	t.mu.Lock()
	client, ok := t.clients[host]
	delete(t.clients, host)
	t.mu.Unlock()
	if ok {
		_ = client.Close()
	}
}

// Close closes every cached connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for host, client := range t.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(t.clients, host)
	}
	return errors.Join(errs...)
}
