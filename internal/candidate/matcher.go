package candidate

import (
	"strings"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/normalize"
)

// Match filters candidates to those plausibly matching the requested book.
// Each surviving candidate carries its title and name similarity scores.
// Pure function of (request identity, candidates, settings).
func Match(req *domain.BookRequest, candidates []*domain.Candidate, settings domain.DownloadSettings) []domain.ScoredCandidate {
	targets := titleTargets(req)
	names := requestNames(req)

	matched := make([]domain.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		titleScore := 0
		for _, cleaned := range candidateTitles(c) {
			for _, target := range targets {
				if s := similarity(cleaned, target); s > titleScore {
					titleScore = s
				}
			}
		}
		if titleScore < settings.TitleRatio {
			continue
		}

		nameScore := bestNameScore(c.Title, names)
		if len(req.Authors) > 0 && nameScore < settings.NameRatio {
			continue
		}

		matched = append(matched, domain.ScoredCandidate{
			Candidate:  c,
			TitleScore: titleScore,
			NameScore:  nameScore,
		})
	}
	return matched
}

// candidateTitles returns the comparison strings for a candidate: the full
// cleaned release title, plus the parsed book-title guess when the release
// name carries an author prefix.
func candidateTitles(c *domain.Candidate) []string {
	titles := []string{normalize.CleanTitle(c.Title)}
	if guess := c.Metadata.Title; guess != "" && guess != titles[0] {
		titles = append(titles, guess)
	}
	return titles
}

// titleTargets returns the folded request title, alone and with subtitle.
func titleTargets(req *domain.BookRequest) []string {
	targets := []string{normalize.Fold(req.Title)}
	if req.Subtitle != "" {
		targets = append(targets, normalize.Fold(req.Title+" "+req.Subtitle))
	}
	return targets
}

func requestNames(req *domain.BookRequest) []string {
	names := make([]string, 0, len(req.Authors)+len(req.Narrators))
	for _, a := range req.Authors {
		if f := normalize.Fold(a); f != "" {
			names = append(names, f)
		}
	}
	for _, n := range req.Narrators {
		if f := normalize.Fold(n); f != "" {
			names = append(names, f)
		}
	}
	return names
}

// bestNameScore finds the best similarity between any requested name and
// any word window extracted from the candidate title.
func bestNameScore(candidateTitle string, names []string) int {
	if len(names) == 0 {
		return 0
	}
	tokens := normalize.NameTokens(candidateTitle)
	best := 0
	for _, name := range names {
		for _, token := range tokens {
			if s := similarity(name, token); s > best {
				best = s
				if best == 100 {
					return best
				}
			}
		}
	}
	return best
}

// similarity scores two normalized strings 0-100 by Levenshtein distance
// over the longer length.
func similarity(a, b string) int {
	if a == b {
		if a == "" {
			return 0
		}
		return 100
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	distance := levenshteinDistance(a, b)
	maxLen := max(len(a), len(b))
	return int(100 * (1.0 - float64(distance)/float64(maxLen)))
}

func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}

	return matrix[len(a)][len(b)]
}

// SearchQuery builds the indexer query for a request, title plus primary
// author when one is known.
func SearchQuery(req *domain.BookRequest) string {
	parts := []string{req.Title}
	if author := req.PrimaryAuthor(); author != "" {
		parts = append(parts, author)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
