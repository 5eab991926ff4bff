package api

import (
	"encoding/json/v2"
	"net/http"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/http/response"
)

// handleGetDownloadSettings returns the current download settings.
func (s *Server) handleGetDownloadSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Get(r.Context())
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, settings, s.logger)
}

// handleUpdateDownloadSettings replaces the download settings.
func (s *Server) handleUpdateDownloadSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.DownloadSettings
	if err := json.UnmarshalRead(r.Body, &settings); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	saved, err := s.settings.Update(r.Context(), settings)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, saved, s.logger)
}
