package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fableseek/fableseek-server/internal/http/response"
	"github.com/fableseek/fableseek-server/internal/metadata/audible"
)

// CatalogSearcher is the slice of the Audible client the search handlers use.
type CatalogSearcher interface {
	Search(ctx context.Context, region audible.Region, params audible.SearchParams) ([]audible.SearchResult, error)
	GetBook(ctx context.Context, region audible.Region, asin string) (*audible.SearchResult, error)
}

// handleSearchCatalog searches the Audible catalog for books to request.
func (s *Server) handleSearchCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := audible.SearchParams{
		Keywords: q.Get("q"),
		Title:    q.Get("title"),
		Author:   q.Get("author"),
		Narrator: q.Get("narrator"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			response.BadRequest(w, "limit must be a positive integer", s.logger)
			return
		}
		params.Limit = limit
	}
	if params.Keywords == "" && params.Title == "" && params.Author == "" && params.Narrator == "" {
		response.BadRequest(w, "at least one of q, title, author, or narrator is required", s.logger)
		return
	}

	results, err := s.catalog.Search(r.Context(), audible.ParseRegion(q.Get("region")), params)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, results, s.logger)
}

// handleGetCatalogBook returns one catalog entry by ASIN.
func (s *Server) handleGetCatalogBook(w http.ResponseWriter, r *http.Request) {
	region := audible.ParseRegion(r.URL.Query().Get("region"))

	book, err := s.catalog.GetBook(r.Context(), region, chi.URLParam(r, "asin"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, book, s.logger)
}
