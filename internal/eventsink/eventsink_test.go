package eventsink

import "testing"

func TestNoopSinkSkipsNoEvents(t *testing.T) {
	result := NoopSink{}.Push(nil)
	if result.Sent || result.SkippedReason != SkipNoEvents {
		t.Errorf("Push(nil) = %+v, want SkippedReason=%q", result, SkipNoEvents)
	}
}

func TestNoopSinkSkipsControlPlaneNotConfigured(t *testing.T) {
	events := []Event{NewEvent(KindTaskCreated, "WU-1", "billing")}
	result := NoopSink{}.Push(events)
	if result.Sent || result.SkippedReason != SkipControlPlaneNotConfigured {
		t.Errorf("Push(events) = %+v, want SkippedReason=%q", result, SkipControlPlaneNotConfigured)
	}
}

func TestNewEventStampsSchemaVersion(t *testing.T) {
	ev := NewEvent(KindTaskCompleted, "WU-2", "")
	if ev.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", ev.SchemaVersion, SchemaVersion)
	}
	if ev.Kind != KindTaskCompleted || ev.WuID != "WU-2" {
		t.Errorf("unexpected event: %+v", ev)
	}
}
