package models

import "time"

// NotificationKind is a free-form category used by UI surfaces for routing.
type NotificationKind string

const (
	NotificationKindMessage NotificationKind = "message"
	NotificationKindWorkLog NotificationKind = "worklog"
	NotificationKindGeneric NotificationKind = "generic"
)

// Notification is stored in MongoDB and pushed as the notification:new payload.
type Notification struct {
	ID        string            `bson:"_id" json:"id"`
	UserID    string            `bson:"user_id" json:"userId"`
	Kind      NotificationKind  `bson:"kind" json:"kind"`
	Title     string            `bson:"title" json:"title"`
	Body      string            `bson:"body,omitempty" json:"body,omitempty"`
	Data      map[string]string `bson:"data,omitempty" json:"data,omitempty"`
	Read      bool              `bson:"read" json:"read"`
	CreatedAt time.Time         `bson:"created_at" json:"createdAt"`
}
