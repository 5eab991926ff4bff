package domain

// InfiniteKbits is the sentinel upper bound meaning "no limit". Any range
// whose ToKbits is at least this value is treated as open ended.
const InfiniteKbits = 1000

// QualityRange bounds the acceptable bitrate for one audio format.
type QualityRange struct {
	FromKbits int `json:"from_kbits"`
	ToKbits   int `json:"to_kbits"`
}

// Contains reports whether a bitrate falls inside the range. A ToKbits at or
// above InfiniteKbits accepts any bitrate above FromKbits.
func (q QualityRange) Contains(kbits int) bool {
	if kbits < q.FromKbits {
		return false
	}
	if q.ToKbits >= InfiniteKbits {
		return true
	}
	return kbits <= q.ToKbits
}

// DownloadSettings is the user-tunable configuration consumed read-only by
// the matcher, ranker, and orchestrator. Each fulfillment attempt takes a
// snapshot; settings changed mid-flight do not alter a running attempt.
type DownloadSettings struct {
	AutoDownload bool `json:"auto_download"`

	// Per-format acceptable bitrate bands.
	Ranges map[AudioFormat]QualityRange `json:"ranges"`

	// MinSeeders is a hard floor for torrent candidates.
	MinSeeders int `json:"min_seeders"`

	// NameRatio and TitleRatio are 0-100 fuzzy-match thresholds.
	NameRatio  int `json:"name_ratio"`
	TitleRatio int `json:"title_ratio"`

	// IndexerFlags maps a lowercased flag to its score delta.
	IndexerFlags map[string]int `json:"indexer_flags"`
}

// DefaultDownloadSettings returns the settings used before an admin has
// configured anything.
func DefaultDownloadSettings() DownloadSettings {
	return DownloadSettings{
		AutoDownload: true,
		Ranges: map[AudioFormat]QualityRange{
			FormatFLAC:         {FromKbits: 20, ToKbits: InfiniteKbits},
			FormatM4B:          {FromKbits: 20, ToKbits: InfiniteKbits},
			FormatMP3:          {FromKbits: 20, ToKbits: InfiniteKbits},
			FormatUnknownAudio: {FromKbits: 20, ToKbits: InfiniteKbits},
			FormatUnknown:      {FromKbits: 20, ToKbits: InfiniteKbits},
		},
		MinSeeders:   1,
		NameRatio:    60,
		TitleRatio:   80,
		IndexerFlags: map[string]int{"freeleech": 10},
	}
}

// RangeFor returns the configured range for a format, falling back to the
// unknown band when the format has no explicit entry.
func (s DownloadSettings) RangeFor(format AudioFormat) QualityRange {
	if r, ok := s.Ranges[format]; ok {
		return r
	}
	return s.Ranges[FormatUnknown]
}

// FlagScore sums the configured deltas for every flag present on a
// candidate. Unrecognized flags contribute zero.
func (s DownloadSettings) FlagScore(flags []string) int {
	total := 0
	for _, flag := range flags {
		total += s.IndexerFlags[flag]
	}
	return total
}
