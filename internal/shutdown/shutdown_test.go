package shutdown

import (
	"fmt"
	"testing"

	xerrors "ReportFlow/internal/errors"
)

func TestCoordinatorLifecycle(t *testing.T) {
	c := NewCoordinator()
	if c.Active() {
		t.Fatalf("new coordinator must be inactive")
	}
	if err := c.Check(); err != nil {
		t.Fatalf("check before trigger: %v", err)
	}

	c.Trigger()
	c.Trigger() // 幂等
	if !c.Active() {
		t.Fatalf("trigger did not take effect")
	}
	if err := c.Check(); err != ErrShuttingDown {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}

	c.Reset()
	if c.Active() || c.Check() != nil {
		t.Fatalf("reset did not clear state")
	}
}

func TestNilCoordinatorIsSafe(t *testing.T) {
	var c *Coordinator
	c.Trigger()
	if c.Active() {
		t.Fatalf("nil coordinator must report inactive")
	}
	if err := c.Check(); err != nil {
		t.Fatalf("nil coordinator check: %v", err)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	if !Is(ErrShuttingDown) {
		t.Fatalf("sentinel must be detected")
	}
	wrapped := xerrors.Wrap(xerrors.CodeShutdown, ErrShuttingDown, "阶段被取消")
	if !Is(wrapped) {
		t.Fatalf("wrapped cancellation must be detected")
	}
	// 仅消息相似不构成停机取消。
	if Is(fmt.Errorf("操作已取消：正在停机")) {
		t.Fatalf("plain error must not match")
	}
	if Is(nil) {
		t.Fatalf("nil must not match")
	}
}
