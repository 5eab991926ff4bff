// Package readarr implements the primary download backend: a manager that
// takes a book identity, adds it to its own catalog, and drives the search
// and download itself.
package readarr

// SearchResult is one entry from the mixed author/book search endpoint.
type SearchResult struct {
	ForeignID string  `json:"foreignId,omitempty"`
	Book      *Book   `json:"book,omitempty"`
	Author    *Author `json:"author,omitempty"`
}

// Book is the backend's book resource. Fields not set by us round-trip
// through RawPayload on add.
type Book struct {
	ID            int             `json:"id"`
	Title         string          `json:"title"`
	ForeignBookID string          `json:"foreignBookId"`
	Monitored     bool            `json:"monitored"`
	Author        *Author         `json:"author,omitempty"`
	AddOptions    *BookAddOptions `json:"addOptions,omitempty"`
}

// Author is the book's author resource, carrying the profile and root
// folder configuration required when adding a new book.
type Author struct {
	ID                int               `json:"id"`
	AuthorName        string            `json:"authorName"`
	ForeignAuthorID   string            `json:"foreignAuthorId"`
	QualityProfileID  int               `json:"qualityProfileId"`
	MetadataProfileID int               `json:"metadataProfileId"`
	RootFolderPath    string            `json:"rootFolderPath,omitempty"`
	Monitored         bool              `json:"monitored"`
	AddOptions        *AuthorAddOptions `json:"addOptions,omitempty"`
}

// BookAddOptions controls what happens right after a book is added.
type BookAddOptions struct {
	SearchForNewBook bool `json:"searchForNewBook"`
}

// AuthorAddOptions controls monitoring for a newly added author.
type AuthorAddOptions struct {
	Monitor               string `json:"monitor"`
	SearchForMissingBooks bool   `json:"searchForMissingBooks"`
}

// QueueRecord is one entry in the backend's active download queue.
type QueueRecord struct {
	ID                    int     `json:"id"`
	BookID                int     `json:"bookId"`
	Title                 string  `json:"title"`
	Status                string  `json:"status"`
	Size                  float64 `json:"size"`
	Sizeleft              float64 `json:"sizeleft"`
	TrackedDownloadStatus string  `json:"trackedDownloadStatus"`
}

// QueuePage is the paged envelope around queue records.
type QueuePage struct {
	Page         int           `json:"page"`
	PageSize     int           `json:"pageSize"`
	TotalRecords int           `json:"totalRecords"`
	Records      []QueueRecord `json:"records"`
}

// commandRequest triggers a backend command, e.g. a book search.
type commandRequest struct {
	Name    string `json:"name"`
	BookIDs []int  `json:"bookIds"`
}
