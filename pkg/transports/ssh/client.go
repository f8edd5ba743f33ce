package ssh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/hostpanel/orchestra/pkg/telemetry"
)

// Client is one SSH connection to a server.
type Client struct {
	config *Config
	host   string
	logger *telemetry.Logger

	mu          sync.RWMutex
	conn        *ssh.Client
	proxy       *ssh.Client
	connectedAt time.Time
	lastUsedAt  time.Time
	stop        chan struct{}
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// NewClient creates an unconnected client for host.
func NewClient(config *Config, host string, logger *telemetry.Logger) *Client {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Client{
		config: config,
		host:   host,
		logger: logger.WithField("host", host),
	}
}

// Connect establishes the SSH connection, through the jump host when one is
// configured.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := c.ping(); err == nil {
			return nil
		}
		c.logger.Warn("Existing connection is dead, reconnecting")
		c.closeLocked()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address(c.host)
	var netConn net.Conn
	if c.config.IsProxyEnabled() {
		proxy, err := dial(ctx, c.config.ProxyAddress(), clientConfig)
		if err != nil {
			return &TransportError{Op: "connect-proxy", Err: err, IsTemporary: true}
		}
		netConn, err = proxy.DialContext(ctx, "tcp", address)
		if err != nil {
			_ = proxy.Close()
			return &TransportError{Op: "connect-via-proxy", Err: err, IsTemporary: true}
		}
		c.proxy = proxy
	} else {
		d := net.Dialer{Timeout: c.config.ConnectionTimeout}
		netConn, err = d.DialContext(ctx, "tcp", address)
		if err != nil {
			return &TransportError{Op: "connect", Err: err, IsTemporary: true}
		}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, clientConfig)
	if err != nil {
		_ = netConn.Close()
		if c.proxy != nil {
			_ = c.proxy.Close()
			c.proxy = nil
		}
		return &TransportError{Op: "handshake", Err: err, IsAuthError: true}
	}

	c.conn = ssh.NewClient(sshConn, chans, reqs)
	c.connectedAt = time.Now()
	c.lastUsedAt = c.connectedAt

	if c.config.KeepAliveInterval > 0 {
		c.stop = make(chan struct{})
		go c.keepAlive(c.conn, c.stop)
	}

	c.logger.WithField("address", address).Debug("SSH connection established")
	return nil
}

func dial(ctx context.Context, address string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, cfg)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	if c.proxy != nil {
		_ = c.proxy.Close()
		c.proxy = nil
	}
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// IsConnected returns true if the client has an open connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// HealthCheck verifies the connection is alive.
func (c *Client) HealthCheck() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return &TransportError{Op: "healthcheck", Err: fmt.Errorf("not connected")}
	}
	return c.ping()
}

// ping must be called with the lock held.
func (c *Client) ping() error {
	if _, _, err := c.conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

func (c *Client) keepAlive(conn *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			c.logger.WithError(err).WithField("retries", retries).Warn("Keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				c.logger.Error("Keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
	}
}

// GetConnectionInfo returns information about the current connection.
func (c *Client) GetConnectionInfo() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnectionInfo{
		Host:         c.host,
		Port:         c.config.Port,
		User:         c.config.User,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
	}
}

// client returns the underlying connection for sessions and SFTP.
func (c *Client) client() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, &TransportError{Op: "get-client", Err: fmt.Errorf("not connected")}
	}
	c.lastUsedAt = time.Now()
	return c.conn, nil
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the operation may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
