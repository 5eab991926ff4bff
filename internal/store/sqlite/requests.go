package sqlite

import (
	"context"
	"database/sql"
	"encoding/json/v2"
	"fmt"
	"strings"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
)

// requestColumns is the ordered list of columns selected in request queries.
// Must match the scan order in scanRequest.
const requestColumns = `id, asin, title, subtitle, authors, narrators,
	series_name, series_index, requested_by, requested_group, status,
	failure_reason, failure_detail, selected_candidate, backend_used,
	job_ref, download_progress, created_at, updated_at`

// scanRequest scans a sql.Row (or sql.Rows via its Scan method) into a
// domain.BookRequest.
func scanRequest(scanner interface{ Scan(dest ...any) error }) (*domain.BookRequest, error) {
	var r domain.BookRequest

	var (
		authors     string
		narrators   string
		seriesIndex sql.NullFloat64
		group       string
		status      string
		reason      string
		backend     string
		selected    sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := scanner.Scan(
		&r.ID,
		&r.ASIN,
		&r.Title,
		&r.Subtitle,
		&authors,
		&narrators,
		&r.SeriesName,
		&seriesIndex,
		&r.RequestedBy,
		&group,
		&status,
		&reason,
		&r.FailureDetail,
		&selected,
		&backend,
		&r.JobRef,
		&r.DownloadProgress,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(authors), &r.Authors); err != nil {
		return nil, fmt.Errorf("decode authors: %w", err)
	}
	if err := json.Unmarshal([]byte(narrators), &r.Narrators); err != nil {
		return nil, fmt.Errorf("decode narrators: %w", err)
	}
	if selected.Valid && selected.String != "" {
		var c domain.Candidate
		if err := json.Unmarshal([]byte(selected.String), &c); err != nil {
			return nil, fmt.Errorf("decode selected candidate: %w", err)
		}
		r.SelectedCandidate = &c
	}
	if seriesIndex.Valid {
		r.SeriesIndex = &seriesIndex.Float64
	}

	r.RequestedGroup = domain.Group(group)
	r.Status = domain.RequestStatus(status)
	r.FailureReason = domain.FailureReason(reason)
	r.BackendUsed = domain.Backend(backend)

	r.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	r.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

// requestArgs flattens a request into the column order of requestColumns.
func requestArgs(r *domain.BookRequest) ([]any, error) {
	authors, err := json.Marshal(r.Authors)
	if err != nil {
		return nil, fmt.Errorf("encode authors: %w", err)
	}
	narrators, err := json.Marshal(r.Narrators)
	if err != nil {
		return nil, fmt.Errorf("encode narrators: %w", err)
	}

	var selected sql.NullString
	if r.SelectedCandidate != nil {
		data, err := json.Marshal(r.SelectedCandidate)
		if err != nil {
			return nil, fmt.Errorf("encode selected candidate: %w", err)
		}
		selected = sql.NullString{String: string(data), Valid: true}
	}

	var seriesIndex sql.NullFloat64
	if r.SeriesIndex != nil {
		seriesIndex = sql.NullFloat64{Float64: *r.SeriesIndex, Valid: true}
	}

	return []any{
		r.ID,
		r.ASIN,
		r.Title,
		r.Subtitle,
		string(authors),
		string(narrators),
		r.SeriesName,
		seriesIndex,
		r.RequestedBy,
		string(r.RequestedGroup),
		string(r.Status),
		string(r.FailureReason),
		r.FailureDetail,
		selected,
		string(r.BackendUsed),
		r.JobRef,
		r.DownloadProgress,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	}, nil
}

// CreateRequest inserts a new book request.
func (s *Store) CreateRequest(ctx context.Context, req *domain.BookRequest) error {
	args, err := requestArgs(req)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO requests (`+requestColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.Conflictf("request %s already exists", req.ID)
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// GetRequest fetches one request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (*domain.BookRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)

	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("request %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateRequest rewrites every mutable column of a request.
func (s *Store) UpdateRequest(ctx context.Context, req *domain.BookRequest) error {
	args, err := requestArgs(req)
	if err != nil {
		return err
	}
	// Shift id to the WHERE position.
	args = append(args[1:], req.ID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET
			asin = ?, title = ?, subtitle = ?, authors = ?, narrators = ?,
			series_name = ?, series_index = ?, requested_by = ?,
			requested_group = ?, status = ?, failure_reason = ?,
			failure_detail = ?, selected_candidate = ?, backend_used = ?,
			job_ref = ?, download_progress = ?, created_at = ?, updated_at = ?
		 WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFoundf("request %s not found", req.ID)
	}
	return nil
}

// DeleteRequest removes a request permanently.
func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFoundf("request %s not found", id)
	}
	return nil
}

// ListRequests returns every request, newest first.
func (s *Store) ListRequests(ctx context.Context) ([]*domain.BookRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM requests ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ListRequestsByUser returns a user's requests, newest first.
func (s *Store) ListRequestsByUser(ctx context.Context, userID string) ([]*domain.BookRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM requests
		 WHERE requested_by = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list requests by user: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ListRequestsByStatus returns requests in any of the given statuses,
// oldest first so retries drain in arrival order.
func (s *Store) ListRequestsByStatus(ctx context.Context, statuses ...domain.RequestStatus) ([]*domain.BookRequest, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?, ", len(statuses)-1) + "?"
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM requests
		 WHERE status IN (`+placeholders+`) ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests by status: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]*domain.BookRequest, error) {
	var requests []*domain.BookRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}
