package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/workbridge/internal/handlers"
	"github.com/AnshRaj112/workbridge/internal/middleware"
)

// Options toggles environment-specific routes and limits.
type Options struct {
	// DevSessions mounts POST /api/auth/dev-session. Never enable in production.
	DevSessions bool
	// RateLimit applies to every /api route; nil disables it.
	RateLimit *middleware.IPRateLimiter
	// SessionRateLimit applies to session issuance; nil disables it.
	SessionRateLimit *middleware.IPRateLimiter
}

func SetupRoutes(r chi.Router, api *handlers.API, opts Options) {
	// Health check (no auth, no rate limit)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Socket gateway; authenticates with the session token itself
	r.Get("/ws", api.ServeWebSocket)

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit.Middleware)
		}

		if opts.DevSessions {
			r.Group(func(r chi.Router) {
				if opts.SessionRateLimit != nil {
					r.Use(opts.SessionRateLimit.Middleware)
				}
				r.Post("/auth/dev-session", api.DevSession)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(api.RequireSession)

			// Conversations and messages
			r.Post("/conversations", api.CreateConversation)
			r.Get("/conversations", api.ListConversations)
			r.Get("/conversations/{id}/messages", api.ListMessages)
			r.Post("/conversations/{id}/messages", api.SendMessage)
			r.Post("/conversations/{id}/read", api.MarkConversationRead)

			// Work verification
			r.Get("/jobs/{jobID}/workers/{workerID}/worklog", api.GetWorkLog)
			r.Post("/jobs/{jobID}/workers/{workerID}/otp/{side}", api.GenerateOTP)
			r.Post("/jobs/{jobID}/workers/{workerID}/otp/{side}/verify", api.VerifyOTP)
			r.Post("/jobs/{jobID}/workers/{workerID}/photo/{side}", api.UploadPhoto)
			r.Post("/jobs/{jobID}/location", api.ShareLocation)

			// Notifications
			r.Get("/notifications", api.ListNotifications)
			r.Post("/notifications/read-all", api.MarkAllNotificationsRead)
			r.Post("/notifications/{id}/read", api.MarkNotificationRead)
		})
	})
}
