package domain

import "time"

// Protocol is the transfer protocol of a release.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// AudioFormat is the audio encoding inferred from a release.
type AudioFormat string

const (
	FormatFLAC         AudioFormat = "flac"
	FormatM4B          AudioFormat = "m4b"
	FormatMP3          AudioFormat = "mp3"
	FormatUnknownAudio AudioFormat = "unknown_audio"
	FormatUnknown      AudioFormat = "unknown"
)

// MetadataGuess holds best-effort book identity parsed from a release title.
type MetadataGuess struct {
	Title     string   `json:"title,omitempty"`
	Subtitle  string   `json:"subtitle,omitempty"`
	Authors   []string `json:"authors,omitempty"`
	Narrators []string `json:"narrators,omitempty"`
	Filetype  string   `json:"filetype,omitempty"`
}

// Candidate is a normalized, scoreable representation of one indexer's
// release offer for a requested book. Candidates are immutable once
// constructed; ranking orders references, it never mutates them.
type Candidate struct {
	GUID        string    `json:"guid"`
	IndexerID   int       `json:"indexer_id"`
	IndexerName string    `json:"indexer_name"`
	Title       string    `json:"title"`
	InfoURL     string    `json:"info_url,omitempty"`
	Protocol    Protocol  `json:"protocol"`
	SizeMB      float64   `json:"size_mb"`
	PublishDate time.Time `json:"publish_date"`

	// Torrent only.
	Seeders  int    `json:"seeders,omitempty"`
	Leechers int    `json:"leechers,omitempty"`
	InfoHash string `json:"info_hash,omitempty"`

	// Usenet only.
	Grabs int `json:"grabs,omitempty"`

	IndexerFlags []string `json:"indexer_flags,omitempty"`

	AudioFormat  AudioFormat `json:"audio_format"`
	BitrateKbits int         `json:"bitrate_kbits,omitempty"`

	DownloadURL string `json:"download_url,omitempty"`
	MagnetURL   string `json:"magnet_url,omitempty"`

	Metadata MetadataGuess `json:"metadata,omitempty"`
}

// ScoredCandidate pairs a candidate with its fuzzy-match and composite
// ranking scores. Score fields are filled by the matcher and ranker.
type ScoredCandidate struct {
	Candidate  *Candidate `json:"candidate"`
	TitleScore int        `json:"title_score"` // 0-100 fuzzy similarity
	NameScore  int        `json:"name_score"`  // 0-100 fuzzy similarity
	Composite  float64    `json:"composite"`
}
