// Package indexer provides the client for the indexer-aggregation
// collaborator (Prowlarr) that returns raw release listings for a query.
package indexer

import "time"

// Category is one capability category attached to a raw release.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// audioCategoryFloor and audioCategoryCeil bound the Newznab audio category
// block (3000-3999); releases inside it are audio-flagged.
const (
	audioCategoryFloor = 3000
	audioCategoryCeil  = 3999
)

// RawRelease is one release record exactly as the aggregation API returns
// it, before normalization into a Candidate.
type RawRelease struct {
	GUID         string     `json:"guid"`
	IndexerID    int        `json:"indexerId"`
	Indexer      string     `json:"indexer"`
	Title        string     `json:"title"`
	Size         int64      `json:"size"`
	Protocol     string     `json:"protocol"`
	PublishDate  time.Time  `json:"publishDate"`
	InfoURL      string     `json:"infoUrl"`
	DownloadURL  string     `json:"downloadUrl"`
	MagnetURL    string     `json:"magnetUrl"`
	InfoHash     string     `json:"infoHash"`
	Seeders      *int       `json:"seeders"`
	Leechers     *int       `json:"leechers"`
	Grabs        *int       `json:"grabs"`
	Categories   []Category `json:"categories"`
	IndexerFlags []string   `json:"indexerFlags"`
}

// IsAudioFlagged reports whether any category falls in the audio block.
func (r RawRelease) IsAudioFlagged() bool {
	for _, c := range r.Categories {
		if c.ID >= audioCategoryFloor && c.ID <= audioCategoryCeil {
			return true
		}
	}
	return false
}

// Indexer describes one configured indexer behind the aggregation API.
type Indexer struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enable"`
	Privacy string `json:"privacy"`
}
