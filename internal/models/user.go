package models

import (
	"fmt"
	"strings"
)

// Role discriminates the two kinds of authenticated actor.
type Role string

const (
	RoleWorker   Role = "worker"
	RoleEmployer Role = "employer"
)

// ParseRole accepts "worker" or "employer" in any case.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleWorker:
		return RoleWorker, nil
	case RoleEmployer:
		return RoleEmployer, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Identity is an authenticated actor. It is immutable after login.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// UserRoom is the personal room every connection joins on open.
func (i Identity) UserRoom() string {
	return UserRoom(i.ID)
}

// UserRoom returns the personal room key for a user id.
func UserRoom(userID string) string {
	return "user:" + userID
}

// ConversationRoom returns the room key for a conversation.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// JobRoom returns the room key for a job.
func JobRoom(jobID string) string {
	return "job:" + jobID
}
