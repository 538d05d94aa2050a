package chat

import (
	"context"
	"testing"
	"time"
)

func TestConnectionInitialState(t *testing.T) {
	c := NewConnection()
	if got := c.State(); got != Disconnected {
		t.Fatalf("expected Disconnected, got %v", got)
	}
}

func TestConnectionSingleAttempt(t *testing.T) {
	c := NewConnection()

	if !c.BeginAttempt() {
		t.Fatal("first attempt should claim the slot")
	}
	if got := c.State(); got != Connecting {
		t.Fatalf("expected Connecting during attempt, got %v", got)
	}
	if c.BeginAttempt() {
		t.Fatal("second attempt must not start while one is in flight")
	}

	c.EndAttempt(true)
	if got := c.State(); got != Connected {
		t.Fatalf("expected Connected after success, got %v", got)
	}
	if c.BeginAttempt() {
		t.Fatal("attempt must not start when already connected")
	}
}

func TestConnectionFailedAttemptStaysConnecting(t *testing.T) {
	c := NewConnection()

	if !c.BeginAttempt() {
		t.Fatal("first attempt should claim the slot")
	}
	c.EndAttempt(false)

	if got := c.State(); got != Connecting {
		t.Fatalf("failed handshake must leave state Connecting, got %v", got)
	}
	// Retry is caller-driven: the slot is free again.
	if !c.BeginAttempt() {
		t.Fatal("retry should claim the released slot")
	}
	c.EndAttempt(true)
	if got := c.State(); got != Connected {
		t.Fatalf("expected Connected after retry, got %v", got)
	}
}

func TestConnectionAwaitReady(t *testing.T) {
	c := NewConnection()

	// Disconnected returns immediately.
	if err := c.AwaitReady(context.Background()); err != nil {
		t.Fatalf("await on disconnected: %v", err)
	}

	c.BeginAttempt()

	released := make(chan error, 1)
	go func() {
		released <- c.AwaitReady(context.Background())
	}()

	select {
	case err := <-released:
		t.Fatalf("awaiter released before Connected: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	c.EndAttempt(true)
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("await after connect: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("awaiter not released after Connected")
	}
}

func TestConnectionAwaitReleasedOnDisconnect(t *testing.T) {
	c := NewConnection()
	c.BeginAttempt()

	released := make(chan error, 1)
	go func() {
		released <- c.AwaitReady(context.Background())
	}()

	c.SetDisconnected()
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("await after disconnect: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("awaiter not released on disconnect")
	}
	if got := c.State(); got != Disconnected {
		t.Fatalf("expected Disconnected, got %v", got)
	}
}

func TestConnectionAwaitHonorsContext(t *testing.T) {
	c := NewConnection()
	c.BeginAttempt()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.AwaitReady(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
