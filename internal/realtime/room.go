package realtime

import (
	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

// RoomKind distinguishes the joinable room families. The personal user room
// is joined by the Manager itself and is not a RoomKind.
type RoomKind string

const (
	RoomConversation RoomKind = "conversation"
	RoomJob          RoomKind = "job"
)

// Room identifies a server-side broadcast group.
type Room struct {
	Kind RoomKind
	ID   string
}

// ConversationRoom returns the room for a conversation.
func ConversationRoom(id string) Room { return Room{Kind: RoomConversation, ID: id} }

// JobRoom returns the room for a job.
func JobRoom(id string) Room { return Room{Kind: RoomJob, ID: id} }

func (r Room) String() string {
	if r.Kind == RoomJob {
		return models.JobRoom(r.ID)
	}
	return models.ConversationRoom(r.ID)
}

func (r Room) joinEvent() protocol.Event {
	if r.Kind == RoomJob {
		return protocol.EventJoinJobRoom
	}
	return protocol.EventJoinConversation
}

func (r Room) leaveEvent() protocol.Event {
	if r.Kind == RoomJob {
		return protocol.EventLeaveJobRoom
	}
	return protocol.EventLeaveConversation
}

func (r Room) payload() any {
	if r.Kind == RoomJob {
		return protocol.JobPayload{JobID: r.ID}
	}
	return protocol.ConversationPayload{ConversationID: r.ID}
}
