package daemon

import (
	"context"
	"testing"

	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/orchestrator"
	"storyloom/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	d, _ := newTestDaemon(t)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Running() {
		t.Fatal("expected daemon to report running")
	}
	if d.api.Addr() == "" {
		t.Fatal("expected api listener address")
	}

	d.Stop()
	if d.Running() {
		t.Fatal("expected daemon to report stopped")
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.MinActiveStories = 0
	cfg.Backfill.Enabled = false

	st := testsupport.MustOpenStore(t, cfg)
	newDaemon := func() *Daemon {
		fake := &testsupport.FakeGeneration{}
		orch := orchestrator.New(cfg, st, fake, notifications.NewService(cfg), logging.NewNop())
		d, err := New(cfg, st, orch, logging.NewNop())
		if err != nil {
			t.Fatalf("daemon.New: %v", err)
		}
		return d
	}

	first := newDaemon()
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()

	second := newDaemon()
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail to acquire lock")
	}
}
