// Package protocol defines the socket event vocabulary shared by the gateway
// and the client core. Every frame is an Envelope; the event name is one of a
// closed set and each carries a typed payload validated on decode.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AnshRaj112/workbridge/internal/models"
)

// Version is the wire protocol version sent in every envelope.
const Version = 1

// Event names a socket event.
type Event string

const (
	EventJoinUserRoom      Event = "joinUserRoom"
	EventJoinConversation  Event = "joinConversation"
	EventLeaveConversation Event = "leaveConversation"
	EventJoinJobRoom       Event = "joinJobRoom"
	EventLeaveJobRoom      Event = "leaveJobRoom"
	EventTyping            Event = "typing"
	EventStopTyping        Event = "stopTyping"
	EventGetOnlineStatus   Event = "users:getOnlineStatus"

	EventReceiveMessage        Event = "receiveMessage"
	EventUserTyping            Event = "userTyping"
	EventUserStoppedTyping     Event = "userStoppedTyping"
	EventMessageRead           Event = "messageRead"
	EventMessageDelivered      Event = "messageDelivered"
	EventPresenceOnline        Event = "presence:online"
	EventPresenceOffline       Event = "presence:offline"
	EventWorkerLocationUpdated Event = "workerLocationUpdated"
	EventWorkLogUpdated        Event = "workLogUpdated"
	EventNotificationNew       Event = "notification:new"
	EventNotificationRead      Event = "notification:read"
	EventNotificationAllRead   Event = "notification:allRead"
	EventAck                   Event = "ack"
	EventError                 Event = "error"
)

// Direction tells which side of the channel may send an event.
type Direction int

const (
	ClientToServer Direction = iota + 1
	ServerToClient
)

var directions = map[Event]Direction{
	EventJoinUserRoom:          ClientToServer,
	EventJoinConversation:      ClientToServer,
	EventLeaveConversation:     ClientToServer,
	EventJoinJobRoom:           ClientToServer,
	EventLeaveJobRoom:          ClientToServer,
	EventTyping:                ClientToServer,
	EventStopTyping:            ClientToServer,
	EventGetOnlineStatus:       ClientToServer,
	EventReceiveMessage:        ServerToClient,
	EventUserTyping:            ServerToClient,
	EventUserStoppedTyping:     ServerToClient,
	EventMessageRead:           ServerToClient,
	EventMessageDelivered:      ServerToClient,
	EventPresenceOnline:        ServerToClient,
	EventPresenceOffline:       ServerToClient,
	EventWorkerLocationUpdated: ServerToClient,
	EventWorkLogUpdated:        ServerToClient,
	EventNotificationNew:       ServerToClient,
	EventNotificationRead:      ServerToClient,
	EventNotificationAllRead:   ServerToClient,
	EventAck:                   ServerToClient,
	EventError:                 ServerToClient,
}

var (
	// ErrUnknownEvent is returned for event names outside the vocabulary.
	ErrUnknownEvent = errors.New("protocol: unknown event")
	// ErrWrongDirection is returned when a frame travels the wrong way.
	ErrWrongDirection = errors.New("protocol: event not allowed in this direction")
	// ErrInvalidPayload is returned when a payload fails validation.
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

// Direction returns who may send e, or 0 for unknown events.
func (e Event) Direction() Direction {
	return directions[e]
}

// Known reports whether e is part of the vocabulary.
func (e Event) Known() bool {
	_, ok := directions[e]
	return ok
}

// Envelope is one frame on the wire.
type Envelope struct {
	V     int             `json:"v"`
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	// Ack is set on requests that expect an ack frame back, and on that ack.
	Ack uint64 `json:"ack,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event Event, payload any) (Envelope, error) {
	env := Envelope{V: Version, Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s: %w", event, err)
		}
		env.Data = data
	}
	return env, nil
}

// Check verifies that env may travel in direction dir.
func (env Envelope) Check(dir Direction) error {
	got := env.Event.Direction()
	if got == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if got != dir {
		return fmt.Errorf("%w: %q", ErrWrongDirection, env.Event)
	}
	return nil
}

// Validator is implemented by payloads with field-level rules.
type Validator interface {
	Validate() error
}

// Decode unmarshals env.Data into dst and runs dst.Validate when present.
func Decode(env Envelope, dst any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s: empty payload", ErrInvalidPayload, env.Event)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
	}
	if v, ok := dst.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
		}
	}
	return nil
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// RoomPayload is sent with joinUserRoom.
type RoomPayload struct {
	Room string `json:"room"`
}

func (p *RoomPayload) Validate() error {
	if !strings.HasPrefix(p.Room, "user:") || len(p.Room) <= len("user:") {
		return fmt.Errorf("room must be user:{id}")
	}
	return nil
}

// ConversationPayload is sent with joinConversation and leaveConversation.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

func (p *ConversationPayload) Validate() error {
	return required(map[string]string{"conversationId": p.ConversationID})
}

// JobPayload is sent with joinJobRoom and leaveJobRoom.
type JobPayload struct {
	JobID string `json:"jobId"`
}

func (p *JobPayload) Validate() error {
	return required(map[string]string{"jobId": p.JobID})
}

// TypingPayload travels as typing/stopTyping and userTyping/userStoppedTyping.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

func (p *TypingPayload) Validate() error {
	return required(map[string]string{"conversationId": p.ConversationID, "userId": p.UserID})
}

// ReceiptPayload travels as messageRead and messageDelivered.
type ReceiptPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func (p *ReceiptPayload) Validate() error {
	return required(map[string]string{"messageId": p.MessageID})
}

// OnlineStatusRequest is the users:getOnlineStatus request.
type OnlineStatusRequest struct {
	UserIDs []string `json:"userIds"`
}

func (p *OnlineStatusRequest) Validate() error {
	if len(p.UserIDs) == 0 {
		return fmt.Errorf("userIds is empty")
	}
	return nil
}

// OnlineStatusResponse is the ack data for users:getOnlineStatus.
type OnlineStatusResponse struct {
	Statuses map[string]bool `json:"statuses"`
}

// PresencePayload travels as presence:online and presence:offline.
type PresencePayload struct {
	UserID string `json:"userId"`
}

func (p *PresencePayload) Validate() error {
	return required(map[string]string{"userId": p.UserID})
}

// MessagePayload is the receiveMessage payload.
type MessagePayload struct {
	models.Message
}

func (p *MessagePayload) Validate() error {
	return p.Message.Validate()
}

// LocationPayload is the workerLocationUpdated payload.
type LocationPayload struct {
	JobID      string  `json:"jobId"`
	WorkerID   string  `json:"workerId"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	WorkerName string  `json:"workerName,omitempty"`
}

func (p *LocationPayload) Validate() error {
	if err := required(map[string]string{"workerId": p.WorkerID}); err != nil {
		return err
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("coordinates out of range")
	}
	return nil
}

// WorkLogUpdatedPayload is a change signal; consumers refetch the log.
type WorkLogUpdatedPayload struct {
	JobID    string `json:"jobId"`
	WorkerID string `json:"workerId"`
}

func (p *WorkLogUpdatedPayload) Validate() error {
	return required(map[string]string{"jobId": p.JobID, "workerId": p.WorkerID})
}

// NotificationPayload is the notification:new payload.
type NotificationPayload struct {
	models.Notification
}

func (p *NotificationPayload) Validate() error {
	return required(map[string]string{"id": p.ID})
}

// NotificationReadPayload is the notification:read payload.
type NotificationReadPayload struct {
	NotificationID string `json:"notificationId"`
}

func (p *NotificationReadPayload) Validate() error {
	return required(map[string]string{"notificationId": p.NotificationID})
}

// AckPayload answers a request envelope carrying the same Ack id.
type AckPayload struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ErrorPayload reports a rejected client frame.
type ErrorPayload struct {
	Message string `json:"message"`
}
