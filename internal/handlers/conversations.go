package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// CreateConversationRequest names the other member.
type CreateConversationRequest struct {
	CounterpartID string `json:"counterpartId"`
}

// SendMessageRequest carries the message body.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// MarkReadResponse lists the messages that changed to read.
type MarkReadResponse struct {
	MessageIDs []string `json:"messageIds"`
}

// CreateConversation returns the caller's conversation with a counterpart,
// creating it on first use.
func (a *API) CreateConversation(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	var req CreateConversationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	conv, err := a.Chat.StartConversation(ctx, caller, req.CounterpartID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ListConversations returns the caller's conversations with their lastMessage.
func (a *API) ListConversations(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	convs, err := a.Chat.Conversations(ctx, caller)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// ListMessages loads history for a conversation.
// Query params:
//
//	before (optional RFC3339 timestamp for pagination)
//	limit  (optional, default 50, max 100)
func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	conversationID := chi.URLParam(r, "id")

	limit := 50
	if lStr := r.URL.Query().Get("limit"); lStr != "" {
		parsed, err := strconv.Atoi(lStr)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "limit must be between 1 and 100.")
			return
		}
		limit = parsed
	}

	var before time.Time
	if bStr := r.URL.Query().Get("before"); bStr != "" {
		t, err := time.Parse(time.RFC3339Nano, bStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "before must be an RFC3339 timestamp.")
			return
		}
		before = t
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	msgs, err := a.Chat.History(ctx, caller, conversationID, before, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage stores a message and broadcasts it to the conversation room.
func (a *API) SendMessage(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	msg, err := a.Chat.Send(ctx, caller, chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkConversationRead marks everything the caller received as read.
func (a *API) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ids, err := a.Chat.MarkRead(ctx, caller, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, MarkReadResponse{MessageIDs: ids})
}
