// Package metrics aggregates in-memory counters for the room lifecycle engine
// and renders them in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder tracks room lifecycle events, command dispatch outcomes, platform
// call retries, and ops HTTP traffic. A RWMutex coordinates the label maps; the
// active-rooms gauge is atomic.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	roomEvents      map[string]uint64
	commandEvents   map[commandLabel]uint64
	platformRetries map[string]uint64
	activeRooms     atomic.Int64
}

type commandLabel struct {
	name   string
	status string
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		roomEvents:      make(map[string]uint64),
		commandEvents:   make(map[commandLabel]uint64),
		platformRetries: make(map[string]uint64),
	}
}

// Default returns the shared Recorder used by packages without an injected one.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates count and duration for an ops HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   path,
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// RoomCreated records a provisioned room and bumps the active gauge.
func (r *Recorder) RoomCreated() {
	r.incrementRoomEvent("created")
	r.activeRooms.Add(1)
}

// RoomAdopted records a room recovered from a platform scan at startup.
func (r *Recorder) RoomAdopted() {
	r.incrementRoomEvent("adopted")
	r.activeRooms.Add(1)
}

// RoomDeleted records a reclaimed room and decrements the active gauge,
// guarding against negative counts.
func (r *Recorder) RoomDeleted() {
	r.incrementRoomEvent("deleted")
	for {
		current := r.activeRooms.Load()
		if current <= 0 {
			return
		}
		if r.activeRooms.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func (r *Recorder) incrementRoomEvent(event string) {
	r.mu.Lock()
	r.roomEvents[event]++
	r.mu.Unlock()
}

// ObserveCommand records a dispatched chat command and its outcome.
func (r *Recorder) ObserveCommand(name string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	label := commandLabel{name: normalizeName(name), status: status}
	r.mu.Lock()
	r.commandEvents[label]++
	r.mu.Unlock()
}

// ObservePlatformRetry records one retried platform operation (create/delete).
func (r *Recorder) ObservePlatformRetry(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.platformRetries[op]++
	r.mu.Unlock()
}

// ActiveRooms exposes the current live-room gauge.
func (r *Recorder) ActiveRooms() int64 {
	return r.activeRooms.Load()
}

// RoomEventCounts returns a copy of the room event counters. Intended for tests.
func (r *Recorder) RoomEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.roomEvents))
	for k, v := range r.roomEvents {
		out[k] = v
	}
	return out
}

// Reset clears all counters and gauges. Intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.roomEvents = make(map[string]uint64)
	r.commandEvents = make(map[commandLabel]uint64)
	r.platformRetries = make(map[string]uint64)
	r.activeRooms.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders all metrics with sorted label sets for stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fmt.Fprintln(w, "# HELP voiceloft_room_events_total Room lifecycle events by type")
	fmt.Fprintln(w, "# TYPE voiceloft_room_events_total counter")
	for _, event := range sortedKeys(r.roomEvents) {
		fmt.Fprintf(w, "voiceloft_room_events_total{event=%q} %d\n", event, r.roomEvents[event])
	}

	fmt.Fprintln(w, "# HELP voiceloft_active_rooms Current number of live private rooms")
	fmt.Fprintln(w, "# TYPE voiceloft_active_rooms gauge")
	fmt.Fprintf(w, "voiceloft_active_rooms %d\n", r.activeRooms.Load())

	fmt.Fprintln(w, "# HELP voiceloft_commands_total Chat commands dispatched by name and outcome")
	fmt.Fprintln(w, "# TYPE voiceloft_commands_total counter")
	for _, label := range r.sortedCommandLabels() {
		fmt.Fprintf(w, "voiceloft_commands_total{command=%q,status=%q} %d\n", label.name, label.status, r.commandEvents[label])
	}

	fmt.Fprintln(w, "# HELP voiceloft_platform_retries_total Retried platform operations by name")
	fmt.Fprintln(w, "# TYPE voiceloft_platform_retries_total counter")
	for _, op := range sortedKeys(r.platformRetries) {
		fmt.Fprintf(w, "voiceloft_platform_retries_total{operation=%q} %d\n", op, r.platformRetries[op])
	}

	fmt.Fprintln(w, "# HELP voiceloft_http_requests_total Ops HTTP requests processed")
	fmt.Fprintln(w, "# TYPE voiceloft_http_requests_total counter")
	for _, label := range r.sortedRequestLabels() {
		fmt.Fprintf(w, "voiceloft_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP voiceloft_http_request_duration_seconds_sum Cumulative ops request duration in seconds")
	fmt.Fprintln(w, "# TYPE voiceloft_http_request_duration_seconds_sum counter")
	for _, label := range r.sortedRequestLabels() {
		fmt.Fprintf(w, "voiceloft_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedCommandLabels() []commandLabel {
	labels := make([]commandLabel, 0, len(r.commandEvents))
	for label := range r.commandEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].name != labels[j].name {
			return labels[i].name < labels[j].name
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// RoomCreated increments counters on the default recorder.
func RoomCreated() { defaultRecorder.RoomCreated() }

// RoomAdopted increments counters on the default recorder.
func RoomAdopted() { defaultRecorder.RoomAdopted() }

// RoomDeleted increments counters on the default recorder.
func RoomDeleted() { defaultRecorder.RoomDeleted() }

// ObserveCommand records a command outcome on the default recorder.
func ObserveCommand(name string, ok bool) { defaultRecorder.ObserveCommand(name, ok) }

// ObservePlatformRetry records a retry on the default recorder.
func ObservePlatformRetry(operation string) { defaultRecorder.ObservePlatformRetry(operation) }

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler { return defaultRecorder.Handler() }
