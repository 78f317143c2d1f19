package delivery

import (
	"bytes"
	"errors"
	"testing"

	"github.com/user/casedesk/internal/types"
)

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var got Notice
	reg.Register("send.", func(n Notice) error {
		got = n
		return nil
	})

	err := reg.Deliver(Notice{Topic: TopicSendFailed, Case: "42", Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "hello" {
		t.Errorf("expected text %q, got %q", "hello", got.Text)
	}
	if got.At.IsZero() {
		t.Error("expected delivery time to be stamped")
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Deliver(Notice{Topic: "unknown.topic", Text: "hello"})
	if err == nil {
		t.Fatal("expected error for unregistered topic, got nil")
	}
}

func TestRegistryFanOut(t *testing.T) {
	reg := NewRegistry()

	var all, status, send int
	reg.Register("", func(Notice) error { all++; return nil })
	reg.Register("status.", func(Notice) error { status++; return nil })
	reg.Register("send.", func(Notice) error { send++; return nil })

	if err := reg.Deliver(Notice{Topic: TopicStatusUpdated}); err != nil {
		t.Fatalf("status deliver error: %v", err)
	}
	if err := reg.Deliver(Notice{Topic: TopicSendFailed}); err != nil {
		t.Fatalf("send deliver error: %v", err)
	}

	if all != 2 {
		t.Errorf("expected 2 catch-all calls, got %d", all)
	}
	if status != 1 {
		t.Errorf("expected 1 status call, got %d", status)
	}
	if send != 1 {
		t.Errorf("expected 1 send call, got %d", send)
	}
}

func TestRegistryHandlerError(t *testing.T) {
	reg := NewRegistry()

	boom := errors.New("sink offline")
	var called bool
	reg.Register("", func(Notice) error { return boom })
	reg.Register("send.", func(Notice) error { called = true; return nil })

	err := reg.Deliver(Notice{Topic: TopicSendFailed})
	if !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if !called {
		t.Error("a failing handler must not stop the others")
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	reg := NewRegistry()
	reg.Register("", Console(&buf))

	reg.Notify(Notice{Topic: TopicSendFailed, Level: LevelError, Kind: types.KindRequest, Case: "7", Text: "Comment could not be sent"})
	reg.Notify(Notice{Topic: TopicStatusUpdated, Level: LevelInfo, Text: "Status updated"})

	want := "error: [request 7] Comment could not be sent\nStatus updated\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}
