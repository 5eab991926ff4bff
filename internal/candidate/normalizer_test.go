package candidate

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/indexer"
)

func intPtr(n int) *int { return &n }

func rawTorrent(title string) indexer.RawRelease {
	return indexer.RawRelease{
		GUID:        "guid-" + title,
		IndexerID:   3,
		Indexer:     "AudioBay",
		Title:       title,
		Size:        512 * 1024 * 1024,
		Protocol:    "torrent",
		PublishDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		InfoHash:    "ABCDEF0123456789ABCDEF0123456789ABCDEF01",
		Seeders:     intPtr(12),
		Leechers:    intPtr(2),
		Categories:  []indexer.Category{{ID: 3030, Name: "Audio/Audiobook"}},
	}
}

func TestNormalize_TorrentRelease(t *testing.T) {
	raw := rawTorrent("Frank Herbert - Dune [M4B 64 kbps]")
	raw.IndexerFlags = []string{"FreeLeech", " internal "}

	c, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, domain.ProtocolTorrent, c.Protocol)
	assert.InDelta(t, 512.0, c.SizeMB, 0.01)
	assert.Equal(t, domain.FormatM4B, c.AudioFormat)
	assert.Equal(t, 64, c.BitrateKbits, "explicit bitrate beats the format default")
	assert.Equal(t, "abcdef0123456789abcdef0123456789abcdef01", c.InfoHash)
	assert.Equal(t, []string{"freeleech", "internal"}, c.IndexerFlags)
	assert.Equal(t, 12, c.Seeders)
	assert.Equal(t, []string{"Frank Herbert"}, c.Metadata.Authors)
	assert.Equal(t, "dune", c.Metadata.Title)
}

func TestNormalize_DefaultBitratePerFormat(t *testing.T) {
	tests := []struct {
		title      string
		wantFormat domain.AudioFormat
		wantKbits  int
	}{
		{"Dune FLAC", domain.FormatFLAC, 900},
		{"Dune MP3", domain.FormatMP3, 192},
		{"Dune m4b", domain.FormatM4B, 128},
		{"Dune Audiobook", domain.FormatUnknownAudio, 128},
	}
	for _, tt := range tests {
		c, err := Normalize(rawTorrent(tt.title))
		require.NoError(t, err, tt.title)
		assert.Equal(t, tt.wantFormat, c.AudioFormat, tt.title)
		assert.Equal(t, tt.wantKbits, c.BitrateKbits, tt.title)
	}
}

func TestNormalize_UnknownWhenNotAudioFlagged(t *testing.T) {
	raw := rawTorrent("Mystery Release")
	raw.Categories = nil
	c, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.FormatUnknown, c.AudioFormat)
	assert.Equal(t, 0, c.BitrateKbits)
}

func TestNormalize_HashFromMagnet(t *testing.T) {
	raw := rawTorrent("Dune M4B")
	raw.InfoHash = ""
	raw.MagnetURL = "magnet:?xt=urn:btih:00DDEE0123456789ABCDEF0123456789ABCDEF99&dn=dune"
	c, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "00ddee0123456789abcdef0123456789abcdef99", c.InfoHash)
}

func TestNormalize_Rejections(t *testing.T) {
	missing := rawTorrent("Dune")
	missing.GUID = " "
	_, err := Normalize(missing)
	assert.ErrorIs(t, err, ErrMissingIdentity)

	empty := rawTorrent("Dune")
	empty.Size = 0
	_, err = Normalize(empty)
	assert.ErrorIs(t, err, ErrNonPositiveSize)

	bare := rawTorrent("Dune")
	bare.InfoHash = ""
	bare.MagnetURL = ""
	bare.DownloadURL = ""
	_, err = Normalize(bare)
	assert.ErrorIs(t, err, ErrUndispatchable)

	odd := rawTorrent("Dune")
	odd.Protocol = "carrier-pigeon"
	_, err = Normalize(odd)
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestNormalize_UsenetNeedsNoHash(t *testing.T) {
	raw := rawTorrent("Dune M4B")
	raw.Protocol = "usenet"
	raw.InfoHash = ""
	raw.Grabs = intPtr(200)
	c, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolUsenet, c.Protocol)
	assert.Equal(t, 200, c.Grabs)
}

func TestNormalizeAll_SkipsRejects(t *testing.T) {
	bad := rawTorrent("broken")
	bad.Size = -1
	out := NormalizeAll([]indexer.RawRelease{rawTorrent("Dune M4B"), bad}, slog.New(slog.DiscardHandler))
	require.Len(t, out, 1)
	assert.Equal(t, "guid-Dune M4B", out[0].GUID)
}

func TestNormalize_Deterministic(t *testing.T) {
	raw := rawTorrent("Frank Herbert - Dune [FLAC]")
	first, err := Normalize(raw)
	require.NoError(t, err)
	for range 5 {
		again, err := Normalize(raw)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
