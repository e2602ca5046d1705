package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Writer: &buf})

	logger.Info("suppressed")
	logger.Warn("emitted")

	output := buf.String()
	if strings.Contains(output, "suppressed") {
		t.Fatalf("info line should be filtered: %s", output)
	}
	if !strings.Contains(output, "emitted") {
		t.Fatalf("warn line missing: %s", output)
	}
}

func TestNewDefaultsToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	logger.Info("hello", "channel_id", "chan-1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "hello" || record["channel_id"] != "chan-1" {
		t.Fatalf("record = %v", record)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "text"})
	logger.Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("output = %s", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(Config{Writer: &buf}), "rooms")
	logger.Info("tick")

	if !strings.Contains(buf.String(), `"component":"rooms"`) {
		t.Fatalf("output = %s", buf.String())
	}
	if got := WithComponent(nil, "rooms"); got != nil {
		t.Fatal("nil logger must stay nil")
	}
}

func TestContextIDs(t *testing.T) {
	ctx := ContextWithCommunityID(context.Background(), "guild-1")
	ctx = ContextWithChannelID(ctx, "chan-1")

	if id, ok := CommunityIDFromContext(ctx); !ok || id != "guild-1" {
		t.Fatalf("community id = %q, %v", id, ok)
	}
	if id, ok := ChannelIDFromContext(ctx); !ok || id != "chan-1" {
		t.Fatalf("channel id = %q, %v", id, ok)
	}

	if _, ok := CommunityIDFromContext(context.Background()); ok {
		t.Fatal("empty context should carry no community id")
	}
	if same := ContextWithCommunityID(context.Background(), "  "); same != context.Background() {
		t.Fatal("blank id should not derive a new context")
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Writer: &buf})

	ctx := ContextWithCommunityID(context.Background(), "guild-1")
	ctx = ContextWithChannelID(ctx, "chan-1")
	WithContext(ctx, base).Info("reconcile")

	output := buf.String()
	if !strings.Contains(output, `"community_id":"guild-1"`) || !strings.Contains(output, `"channel_id":"chan-1"`) {
		t.Fatalf("output = %s", output)
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	for _, level := range []string{"", "bogus", "INFO"} {
		if got := parseLevel(level).Level(); got != slog.LevelInfo {
			t.Errorf("parseLevel(%q) = %v", level, got)
		}
	}
	if got := parseLevel("DEBUG").Level(); got != slog.LevelDebug {
		t.Errorf("parseLevel(DEBUG) = %v", got)
	}
}
