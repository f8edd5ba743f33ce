package ssh

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hostpanel/orchestra/pkg/orchestration"
)

func TestClientConnect(t *testing.T) {
	server := newTestSSHServer(t)

	client := NewClient(server.clientConfig(), server.host, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
	if err := client.HealthCheck(); err != nil {
		t.Errorf("health check failed: %v", err)
	}
	// Connecting again reuses the live connection.
	if err := client.Connect(context.Background()); err != nil {
		t.Errorf("reconnect failed: %v", err)
	}

	info := client.GetConnectionInfo()
	if info.User != "testuser" || info.ConnectedAt.IsZero() {
		t.Errorf("unexpected connection info: %+v", info)
	}

	if err := client.Close(); err != nil {
		t.Errorf("failed to close: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected client to be disconnected")
	}
	if _, err := client.Exec(context.Background(), "true"); err == nil {
		t.Error("expected error executing on a closed client")
	}
}

func TestClientBadCredentials(t *testing.T) {
	server := newTestSSHServer(t)
	cfg := server.clientConfig()
	cfg.Password = "wrong"

	err := NewClient(cfg, server.host, nil).Connect(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || !te.IsAuthError {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestClientKeyAuth(t *testing.T) {
	server := newTestSSHServer(t)
	cfg := server.clientConfig()
	cfg.AuthMethod = AuthMethodKey
	cfg.PrivateKeyPath = writeTestKey(t)

	client := NewClient(cfg, server.host, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect with key: %v", err)
	}
	defer client.Close()
}

func TestClientExec(t *testing.T) {
	server := newTestSSHServer(t)
	client := NewClient(server.clientConfig(), server.host, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	tests := []struct {
		name     string
		cmd      string
		stdout   string
		stderr   string
		exitCode int
	}{
		{"stdout", "echo test", "test\n", "", 0},
		{"stderr", "echo error >&2", "", "error\n", 0},
		{"exit code", "exit 4", "", "", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := client.Exec(context.Background(), tt.cmd)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Stdout != tt.stdout || res.Stderr != tt.stderr || res.ExitCode != tt.exitCode {
				t.Errorf("unexpected result: %+v", res)
			}
		})
	}
}

func TestClientUpload(t *testing.T) {
	server := newTestSSHServer(t)
	client := NewClient(server.clientConfig(), server.host, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	remote := filepath.Join(t.TempDir(), "sub", "script.sh")
	if err := client.Upload(context.Background(), []byte("echo hi\n"), remote, 0o700); err != nil {
		t.Fatalf("failed to upload: %v", err)
	}
	data, err := os.ReadFile(remote)
	if err != nil || string(data) != "echo hi\n" {
		t.Fatalf("unexpected uploaded content %q: %v", data, err)
	}
	info, _ := os.Stat(remote)
	if info.Mode().Perm() != 0o700 {
		t.Errorf("expected mode 0700, got %v", info.Mode().Perm())
	}

	if err := client.Remove(remote); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}
	if _, err := os.Stat(remote); !os.IsNotExist(err) {
		t.Error("expected remote file to be removed")
	}
	if err := client.Remove(remote); err != nil {
		t.Errorf("removing a missing file should not fail: %v", err)
	}
}

func TestTransportRun(t *testing.T) {
	server := newTestSSHServer(t)
	cfg := server.clientConfig()
	cfg.RemoteDir = t.TempDir()

	tr, err := NewTransport(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}
	defer tr.Close()

	target := orchestration.Server{Name: "ns1", Address: server.host}
	script := "#!/usr/bin/env bash\necho \"running $0\"\necho warn >&2\nexit 3\n"

	res, err := tr.Run(context.Background(), target, script)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, cfg.RemoteDir) || res.Stderr != "warn\n" {
		t.Errorf("unexpected output: %+v", res)
	}

	entries, _ := os.ReadDir(cfg.RemoteDir)
	if len(entries) != 0 {
		t.Errorf("expected uploaded script to be removed, found %d files", len(entries))
	}

	// The connection is reused for the second run.
	if _, err := tr.Run(context.Background(), target, "true"); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if n := len(tr.clients); n != 1 {
		t.Errorf("expected 1 cached client, got %d", n)
	}
	if cmds := server.executed(); len(cmds) != 2 || !strings.Contains(cmds[0], "rc=$?") {
		t.Errorf("unexpected commands: %v", cmds)
	}
}

func TestTransportRunTimeout(t *testing.T) {
	server := newTestSSHServer(t)
	cfg := server.clientConfig()
	cfg.RemoteDir = t.TempDir()

	tr, err := NewTransport(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := tr.Run(ctx, orchestration.Server{Name: "ns1", Address: server.host}, "echo started\nsleep 30\n")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if res == nil || !strings.Contains(res.Stdout, "started") {
		t.Errorf("expected partial output, got %+v", res)
	}
}

func TestTransportConnectFailure(t *testing.T) {
	cfg := DefaultConfig("testuser")
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "testpass"
	cfg.StrictHostKeyChecking = false
	cfg.Port = 1
	cfg.ConnectionTimeout = time.Second

	tr, err := NewTransport(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}
	if _, err := tr.Run(context.Background(), orchestration.Server{Name: "down", Address: "127.0.0.1"}, "true"); err == nil {
		t.Fatal("expected connection error")
	}
	if len(tr.clients) != 0 {
		t.Error("failed connections must not be cached")
	}
}
