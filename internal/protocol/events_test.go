package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/AnshRaj112/workbridge/internal/models"
)

func TestEnvelopeCheck(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		dir     Direction
		wantErr error
	}{
		{"client join", EventJoinConversation, ClientToServer, nil},
		{"server message", EventReceiveMessage, ServerToClient, nil},
		{"client cannot push messages", EventReceiveMessage, ClientToServer, ErrWrongDirection},
		{"server cannot send typing", EventTyping, ServerToClient, ErrWrongDirection},
		{"unknown", Event("chat:nuke"), ClientToServer, ErrUnknownEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Envelope{V: Version, Event: tt.event}.Check(tt.dir)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Check() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeValidates(t *testing.T) {
	env, err := NewEnvelope(EventTyping, TypingPayload{ConversationID: "c1"})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	var p TypingPayload
	err = Decode(env, &p)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("Decode() = %v, want ErrInvalidPayload", err)
	}

	env, _ = NewEnvelope(EventTyping, TypingPayload{ConversationID: "c1", UserID: "u1"})
	if err := Decode(env, &p); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if p.UserID != "u1" {
		t.Fatalf("UserID = %q, want u1", p.UserID)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	var p JobPayload
	if err := Decode(Envelope{Event: EventJoinJobRoom}, &p); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("Decode() = %v, want ErrInvalidPayload", err)
	}
}

func TestMessagePayloadFlattensMessage(t *testing.T) {
	created := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(EventReceiveMessage, models.Message{
		ID: "m1", ConversationID: "c1", SenderID: "u1", Text: "hi", CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["conversationId"] != "c1" {
		t.Fatalf("wire payload = %v", raw)
	}

	var p MessagePayload
	if err := Decode(env, &p); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if p.Status != models.MessageStatusSent {
		t.Fatalf("Status = %q, want default sent", p.Status)
	}
}

func TestRoomPayloadRequiresUserRoom(t *testing.T) {
	for _, room := range []string{"", "user:", "job:1"} {
		p := RoomPayload{Room: room}
		if p.Validate() == nil {
			t.Errorf("Validate(%q) = nil, want error", room)
		}
	}
	p := RoomPayload{Room: models.UserRoom("42")}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLocationPayloadRange(t *testing.T) {
	p := LocationPayload{WorkerID: "w", Latitude: 91}
	if p.Validate() == nil {
		t.Fatal("expected out of range error")
	}
}
