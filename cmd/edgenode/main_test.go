package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("EDGENODE_CONFIG", "/nonexistent/path/edgenode.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_StopsOnCancel runs the simulator against an unreachable broker.
// Publishes fail and are logged; cancellation still returns cleanly.
func TestRun_StopsOnCancel(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "edgenode.yaml")
	content := `
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
  reconnect:
    interval: 50ms
edge:
  node_id: "edge-test"
  interval: 20ms
logging:
  level: error
  output: stderr
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("EDGENODE_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v, want nil", err)
	}
}
