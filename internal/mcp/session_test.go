package mcp

import (
	"errors"
	"testing"
	"time"
)

func TestSessionManagerCap(t *testing.T) {
	m := NewSessionManager(2, time.Minute)
	defer m.CloseAll()

	for i := 0; i < 2; i++ {
		if _, err := m.Create(); err != nil {
			t.Fatalf("Create() #%d error = %v", i, err)
		}
	}
	if _, err := m.Create(); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("Create() over cap error = %v, want ErrSessionLimit", err)
	}
}

func TestSessionManagerCapFreedByClose(t *testing.T) {
	m := NewSessionManager(1, time.Minute)
	defer m.CloseAll()

	sess, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	m.Close(sess.ID)

	if _, err := m.Create(); err != nil {
		t.Fatalf("Create() after Close error = %v", err)
	}
}

func TestReapIdle(t *testing.T) {
	m := NewSessionManager(8, 10*time.Millisecond)
	defer m.CloseAll()

	sess, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Fresh sessions survive.
	if n := m.ReapIdle(time.Now()); n != 0 {
		t.Fatalf("ReapIdle() = %d, want 0", n)
	}

	if n := m.ReapIdle(time.Now().Add(time.Second)); n != 1 {
		t.Fatalf("ReapIdle() = %d, want 1", n)
	}
	if sess.State() != StateClosed {
		t.Errorf("state = %v, want closed", sess.State())
	}
	if _, err := m.Get(sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNew, "new"},
		{StateInitialized, "initialized"},
		{StateReady, "ready"},
		{StateClosed, "closed"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
