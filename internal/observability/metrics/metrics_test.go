package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRoomLifecycleCounters(t *testing.T) {
	rec := New()
	rec.RoomCreated()
	rec.RoomCreated()
	rec.RoomAdopted()
	rec.RoomDeleted()

	events := rec.RoomEventCounts()
	if events["created"] != 2 || events["adopted"] != 1 || events["deleted"] != 1 {
		t.Fatalf("events = %v", events)
	}
	if got := rec.ActiveRooms(); got != 2 {
		t.Fatalf("active rooms = %d, want 2", got)
	}
}

func TestActiveRoomsNeverNegative(t *testing.T) {
	rec := New()
	rec.RoomDeleted()
	rec.RoomDeleted()
	if got := rec.ActiveRooms(); got != 0 {
		t.Fatalf("active rooms = %d, want 0", got)
	}
}

func TestWriteRendersLabels(t *testing.T) {
	rec := New()
	rec.RoomCreated()
	rec.ObserveCommand("Ban", true)
	rec.ObserveCommand("ban", false)
	rec.ObservePlatformRetry("create_channel")
	rec.ObserveRequest("get", "/healthz", 200, 250*time.Millisecond)

	var sb strings.Builder
	rec.Write(&sb)
	output := sb.String()

	for _, want := range []string{
		`voiceloft_room_events_total{event="created"} 1`,
		"voiceloft_active_rooms 1",
		`voiceloft_commands_total{command="ban",status="ok"} 1`,
		`voiceloft_commands_total{command="ban",status="error"} 1`,
		`voiceloft_platform_retries_total{operation="create_channel"} 1`,
		`voiceloft_http_requests_total{method="GET",path="/healthz",status="200"} 1`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\n%s", want, output)
		}
	}
}

func TestObserveCommandNormalizesEmptyName(t *testing.T) {
	rec := New()
	rec.ObserveCommand("  ", true)

	var sb strings.Builder
	rec.Write(&sb)
	if !strings.Contains(sb.String(), `command="unknown"`) {
		t.Fatalf("output = %s", sb.String())
	}
}

func TestHandlerContentType(t *testing.T) {
	rec := New()
	recorder := httptest.NewRecorder()
	rec.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	if got := recorder.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("content type = %q", got)
	}
	if !strings.Contains(recorder.Body.String(), "# TYPE voiceloft_active_rooms gauge") {
		t.Fatalf("body = %s", recorder.Body.String())
	}
}

func TestReset(t *testing.T) {
	rec := New()
	rec.RoomCreated()
	rec.ObserveCommand("ban", true)
	rec.Reset()

	if rec.ActiveRooms() != 0 {
		t.Fatalf("active rooms = %d after reset", rec.ActiveRooms())
	}
	if len(rec.RoomEventCounts()) != 0 {
		t.Fatalf("events = %v after reset", rec.RoomEventCounts())
	}
}
