// Package candidate turns raw indexer release records into normalized,
// scored, and ranked download candidates for a book request.
package candidate

import (
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/indexer"
	"github.com/fableseek/fableseek-server/internal/normalize"
)

// Rejection reasons returned by Normalize. Callers skip rejected records,
// they never fail the fulfillment attempt over a single bad release.
var (
	ErrMissingIdentity = errors.New("release missing title or guid")
	ErrNonPositiveSize = errors.New("release size is zero or negative")
	ErrUndispatchable  = errors.New("release has no info hash and no download link")
	ErrUnknownProtocol = errors.New("release protocol is neither torrent nor usenet")
)

const bytesPerMB = 1024 * 1024

var bitrateRe = regexp.MustCompile(`\b(\d{2,4})\s?(?:kbps|kbit|k)\b`)

// Estimated bitrates used when the release title carries no explicit figure.
var defaultBitrate = map[domain.AudioFormat]int{
	domain.FormatFLAC:         900,
	domain.FormatM4B:          128,
	domain.FormatMP3:          192,
	domain.FormatUnknownAudio: 128,
	domain.FormatUnknown:      0,
}

// Normalize converts one raw release record into a Candidate, or reports
// why the record cannot become one. Pure and deterministic.
func Normalize(raw indexer.RawRelease) (*domain.Candidate, error) {
	if strings.TrimSpace(raw.Title) == "" || strings.TrimSpace(raw.GUID) == "" {
		return nil, ErrMissingIdentity
	}
	if raw.Size <= 0 {
		return nil, ErrNonPositiveSize
	}

	var protocol domain.Protocol
	switch strings.ToLower(raw.Protocol) {
	case "torrent":
		protocol = domain.ProtocolTorrent
	case "usenet":
		protocol = domain.ProtocolUsenet
	default:
		return nil, ErrUnknownProtocol
	}

	c := &domain.Candidate{
		GUID:        raw.GUID,
		IndexerID:   raw.IndexerID,
		IndexerName: raw.Indexer,
		Title:       raw.Title,
		InfoURL:     raw.InfoURL,
		Protocol:    protocol,
		SizeMB:      float64(raw.Size) / bytesPerMB,
		PublishDate: raw.PublishDate,
		DownloadURL: raw.DownloadURL,
		MagnetURL:   raw.MagnetURL,
	}

	if raw.Seeders != nil {
		c.Seeders = *raw.Seeders
	}
	if raw.Leechers != nil {
		c.Leechers = *raw.Leechers
	}
	if raw.Grabs != nil {
		c.Grabs = *raw.Grabs
	}

	for _, flag := range raw.IndexerFlags {
		flag = strings.ToLower(strings.TrimSpace(flag))
		if flag != "" {
			c.IndexerFlags = append(c.IndexerFlags, flag)
		}
	}

	folded := normalize.Fold(raw.Title)
	c.AudioFormat = inferFormat(folded, raw.IsAudioFlagged())
	c.BitrateKbits = inferBitrate(folded, c.AudioFormat)

	if protocol == domain.ProtocolTorrent {
		c.InfoHash = strings.ToLower(strings.TrimSpace(raw.InfoHash))
		if c.InfoHash == "" {
			c.InfoHash = hashFromMagnet(raw.MagnetURL)
		}
		if c.InfoHash == "" && c.DownloadURL == "" {
			return nil, ErrUndispatchable
		}
	}

	c.Metadata = guessMetadata(raw.Title, c.AudioFormat)
	return c, nil
}

// NormalizeAll normalizes every record, logging and skipping rejects.
func NormalizeAll(raws []indexer.RawRelease, logger *slog.Logger) []*domain.Candidate {
	candidates := make([]*domain.Candidate, 0, len(raws))
	for _, raw := range raws {
		c, err := Normalize(raw)
		if err != nil {
			logger.Debug("skipping release", "guid", raw.GUID, "title", raw.Title, "reason", err)
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func inferFormat(foldedTitle string, audioFlagged bool) domain.AudioFormat {
	fields := strings.Fields(foldedTitle)
	for _, f := range fields {
		switch f {
		case "flac":
			return domain.FormatFLAC
		case "m4b", "m4a", "aac":
			return domain.FormatM4B
		case "mp3":
			return domain.FormatMP3
		}
	}
	if audioFlagged {
		return domain.FormatUnknownAudio
	}
	return domain.FormatUnknown
}

func inferBitrate(foldedTitle string, format domain.AudioFormat) int {
	if m := bitrateRe.FindStringSubmatch(foldedTitle); m != nil {
		if kbits, err := strconv.Atoi(m[1]); err == nil && kbits > 0 {
			return kbits
		}
	}
	return defaultBitrate[format]
}

// hashFromMagnet pulls the btih info hash out of a magnet URI.
func hashFromMagnet(magnet string) string {
	if magnet == "" {
		return ""
	}
	u, err := url.Parse(magnet)
	if err != nil || u.Scheme != "magnet" {
		return ""
	}
	for _, xt := range u.Query()["xt"] {
		if rest, ok := strings.CutPrefix(xt, "urn:btih:"); ok && rest != "" {
			return strings.ToLower(rest)
		}
	}
	return ""
}

// guessMetadata extracts best-effort book identity from a raw release title.
// Many audiobook releases follow "Author - Title [tags]"; when the first
// dash-separated segment looks like a person name it becomes the author guess.
func guessMetadata(rawTitle string, format domain.AudioFormat) domain.MetadataGuess {
	guess := domain.MetadataGuess{
		Title:    normalize.CleanTitle(rawTitle),
		Filetype: string(format),
	}
	segments := strings.Split(rawTitle, " - ")
	if len(segments) >= 2 {
		first := strings.TrimSpace(segments[0])
		if looksLikeName(first) {
			guess.Authors = []string{first}
			guess.Title = normalize.CleanTitle(strings.Join(segments[1:], " - "))
		}
	}
	return guess
}

func looksLikeName(s string) bool {
	words := strings.Fields(s)
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	return !strings.ContainsAny(s, "0123456789[]()")
}
