package candidate

import (
	"math"
	"slices"
	"strings"

	"github.com/fableseek/fableseek-server/internal/domain"
)

// Weights tunes the composite score terms. The defaults keep format band,
// match quality, popularity, and flags on comparable scales so no single
// term drowns the others.
type Weights struct {
	FormatBonus     float64
	FormatPenalty   float64
	PopularityScale float64
	PopularityCap   float64
	TitleWeight     float64
	NameWeight      float64
	MatchScale      float64
	AmbiguityDelta  float64
}

// DefaultWeights returns the standard scoring weights.
func DefaultWeights() Weights {
	return Weights{
		FormatBonus:     50,
		FormatPenalty:   50,
		PopularityScale: 10,
		PopularityCap:   40,
		TitleWeight:     0.7,
		NameWeight:      0.3,
		MatchScale:      0.5,
		AmbiguityDelta:  2.5,
	}
}

// Rank orders matched candidates by composite desirability, best first.
// Torrents under the seeder floor are dropped outright; out-of-band formats
// stay eligible at a penalty. Pure function of its inputs, so identical
// inputs always produce the identical order.
func Rank(matched []domain.ScoredCandidate, settings domain.DownloadSettings, w Weights) []domain.ScoredCandidate {
	ranked := make([]domain.ScoredCandidate, 0, len(matched))
	for _, sc := range matched {
		c := sc.Candidate
		if c.Protocol == domain.ProtocolTorrent && c.Seeders < settings.MinSeeders {
			continue
		}
		sc.Composite = composite(sc, settings, w)
		ranked = append(ranked, sc)
	}

	slices.SortStableFunc(ranked, func(a, b domain.ScoredCandidate) int {
		if a.Composite != b.Composite {
			if a.Composite > b.Composite {
				return -1
			}
			return 1
		}
		if a.Candidate.Protocol != b.Candidate.Protocol {
			if a.Candidate.Protocol == domain.ProtocolTorrent {
				return -1
			}
			return 1
		}
		if pa, pb := popularity(a.Candidate), popularity(b.Candidate); pa != pb {
			return pb - pa
		}
		if !a.Candidate.PublishDate.Equal(b.Candidate.PublishDate) {
			if a.Candidate.PublishDate.Before(b.Candidate.PublishDate) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Candidate.GUID, b.Candidate.GUID)
	})
	return ranked
}

// Ambiguous reports whether the top two ranked candidates score within the
// ambiguity delta, a nudge for the user to pick manually.
func Ambiguous(ranked []domain.ScoredCandidate, w Weights) bool {
	if len(ranked) < 2 {
		return false
	}
	return ranked[0].Composite-ranked[1].Composite <= w.AmbiguityDelta
}

func composite(sc domain.ScoredCandidate, settings domain.DownloadSettings, w Weights) float64 {
	c := sc.Candidate

	score := 0.0
	if settings.RangeFor(c.AudioFormat).Contains(c.BitrateKbits) {
		score += w.FormatBonus
	} else {
		score -= w.FormatPenalty
	}

	score += min(w.PopularityScale*math.Log2(1+float64(popularity(c))), w.PopularityCap)

	score += float64(settings.FlagScore(c.IndexerFlags))

	match := w.TitleWeight*float64(sc.TitleScore) + w.NameWeight*float64(sc.NameScore)
	score += w.MatchScale * match

	return score
}

func popularity(c *domain.Candidate) int {
	if c.Protocol == domain.ProtocolTorrent {
		return c.Seeders
	}
	return c.Grabs
}
