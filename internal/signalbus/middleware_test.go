package signalbus

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hellmai/lumenflow/internal/paths"
)

func TestMiddlewareRunPrintsUnreadSummaryForHighValueCommand(t *testing.T) {
	layout := paths.Default(t.TempDir())
	if _, err := CreateSignal(layout, Signal{Message: "lane billing is blocked"}); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	m := NewMiddleware(layout, nil)
	var buf bytes.Buffer
	m.Run(&buf, "wu:claim")

	if !strings.Contains(buf.String(), "lane billing is blocked") {
		t.Errorf("output = %q, want it to mention the unread signal", buf.String())
	}
}

func TestMiddlewareRunSkipsLowValueCommand(t *testing.T) {
	layout := paths.Default(t.TempDir())
	if _, err := CreateSignal(layout, Signal{Message: "hi"}); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	m := NewMiddleware(layout, nil)
	var buf bytes.Buffer
	m.Run(&buf, "mem:list")

	if buf.Len() != 0 {
		t.Errorf("output = %q, want nothing printed for a low-value command", buf.String())
	}
}

func TestMiddlewareRunThrottlesGenericWuCommands(t *testing.T) {
	layout := paths.Default(t.TempDir())
	if _, err := CreateSignal(layout, Signal{Message: "hi"}); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	m := NewMiddleware(layout, nil)
	var first, second bytes.Buffer
	m.Run(&first, "wu:validate")
	m.Run(&second, "wu:validate")

	if first.Len() == 0 {
		t.Error("expected the first invocation to print the summary")
	}
	if second.Len() != 0 {
		t.Errorf("expected the immediate second invocation to be throttled, got %q", second.String())
	}
}

func TestMiddlewareRunSurvivesFailingRemotePull(t *testing.T) {
	layout := paths.Default(t.TempDir())
	if _, err := CreateSignal(layout, Signal{Message: "hi"}); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	failing := func(ctx context.Context) error { return errors.New("remote unavailable") }
	m := NewMiddleware(layout, failing)

	var buf bytes.Buffer
	m.Run(&buf, "wu:claim")
	if !strings.Contains(buf.String(), "hi") {
		t.Errorf("expected local signals to still be reported despite remote failure, got %q", buf.String())
	}
}
