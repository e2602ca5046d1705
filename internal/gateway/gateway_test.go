package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDecodeMessageFrame(t *testing.T) {
	envelope := Envelope{
		Op:   EventMessage,
		Data: json.RawMessage(`{"channelId":"chan-1","authorId":"user-1","content":"!ban <@user-2>"}`),
	}
	event, ok := decode(envelope)
	if !ok {
		t.Fatal("frame should decode")
	}
	if event.Type != EventMessage || event.Message == nil {
		t.Fatalf("event = %+v", event)
	}
	if event.Message.ChannelID != "chan-1" || event.Message.Content != "!ban <@user-2>" {
		t.Fatalf("message = %+v", event.Message)
	}
}

func TestDecodeChannelFrames(t *testing.T) {
	for _, op := range []EventType{EventChannelDeleted, EventChannelUpdated} {
		envelope := Envelope{
			Op:   op,
			Data: json.RawMessage(`{"channel":{"id":"chan-1","communityId":"guild-1"}}`),
		}
		event, ok := decode(envelope)
		if !ok {
			t.Fatalf("%s frame should decode", op)
		}
		if event.Type != op || event.Channel == nil || event.Channel.Channel.ID != "chan-1" {
			t.Fatalf("event = %+v", event)
		}
	}
}

func TestDecodeMemberFrame(t *testing.T) {
	envelope := Envelope{
		Op:   EventMemberJoined,
		Data: json.RawMessage(`{"communityId":"guild-1","member":{"id":"user-1"}}`),
	}
	event, ok := decode(envelope)
	if !ok {
		t.Fatal("frame should decode")
	}
	if event.Member == nil || event.Member.CommunityID != "guild-1" || event.Member.Member.ID != "user-1" {
		t.Fatalf("event = %+v", event)
	}
}

func TestDecodeRejectsUnknownAndMalformed(t *testing.T) {
	if _, ok := decode(Envelope{Op: "presence_update", Data: json.RawMessage(`{}`)}); ok {
		t.Fatal("unknown opcode should be dropped")
	}
	if _, ok := decode(Envelope{Op: EventMessage, Data: json.RawMessage(`not json`)}); ok {
		t.Fatal("malformed payload should be dropped")
	}
}

func TestDialRequiresURL(t *testing.T) {
	if _, err := Dial(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for missing URL")
	}
}

func TestDialAndEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		frames := []string{
			`{"op":"message_create","d":{"channelId":"chan-1","authorId":"user-1","content":"!help"}}`,
			`{"op":"presence_update","d":{}}`,
			`{"op":"member_join","d":{"communityId":"guild-1","member":{"id":"user-2"}}}`,
		}
		for _, frame := range frames {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the connection open until the client closes it.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := Dial(ctx, Config{URL: url, Token: "secret"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}

	events := conn.Events(ctx)
	first, ok := <-events
	if !ok || first.Type != EventMessage || first.Message.Content != "!help" {
		t.Fatalf("first event = %+v, ok=%v", first, ok)
	}
	second, ok := <-events
	if !ok || second.Type != EventMemberJoined || second.Member.Member.ID != "user-2" {
		t.Fatalf("second event = %+v, ok=%v", second, ok)
	}

	conn.Close()
	if _, ok := <-events; ok {
		// Drain any buffered frame; the channel must close soon after.
		for range events {
		}
	}
}
