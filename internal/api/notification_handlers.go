package api

import (
	"encoding/json/v2"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fableseek/fableseek-server/internal/http/response"
	"github.com/fableseek/fableseek-server/internal/service"
)

// handleCreateNotification registers a new notification template.
func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var input service.NotificationInput
	if err := json.UnmarshalRead(r.Body, &input); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	n, err := s.notifications.Create(r.Context(), &input)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Created(w, n, s.logger)
}

// handleListNotifications returns all notification templates.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := s.notifications.List(r.Context())
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, notifications, s.logger)
}

// handleGetNotification returns one notification template.
func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.notifications.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, n, s.logger)
}

// handleUpdateNotification replaces an existing notification template.
func (s *Server) handleUpdateNotification(w http.ResponseWriter, r *http.Request) {
	var input service.NotificationInput
	if err := json.UnmarshalRead(r.Body, &input); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	n, err := s.notifications.Update(r.Context(), chi.URLParam(r, "id"), &input)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, n, s.logger)
}

// handleDeleteNotification removes a notification template.
func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.notifications.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.NoContent(w)
}

// handleTestNotification fires a notification with placeholder variables.
func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.notifications.Test(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, map[string]string{"status": "sent"}, s.logger)
}
