// Package audible provides a client for the Audible catalog API, used to
// find books worth requesting and to pre-fill request metadata from an ASIN.
package audible

import "time"

// Region represents an Audible marketplace.
type Region string

const (
	RegionUS Region = "us"
	RegionUK Region = "uk"
	RegionDE Region = "de"
	RegionFR Region = "fr"
	RegionAU Region = "au"
	RegionCA Region = "ca"
	RegionJP Region = "jp"
	RegionIT Region = "it"
	RegionIN Region = "in"
	RegionES Region = "es"
)

// Host returns the API host for this region.
func (r Region) Host() string {
	hosts := map[Region]string{
		RegionUS: "api.audible.com",
		RegionUK: "api.audible.co.uk",
		RegionDE: "api.audible.de",
		RegionFR: "api.audible.fr",
		RegionAU: "api.audible.com.au",
		RegionCA: "api.audible.ca",
		RegionJP: "api.audible.co.jp",
		RegionIT: "api.audible.it",
		RegionIN: "api.audible.in",
		RegionES: "api.audible.es",
	}
	if host, ok := hosts[r]; ok {
		return host
	}
	return hosts[RegionUS]
}

// Valid reports whether this is a recognized region.
func (r Region) Valid() bool {
	switch r {
	case RegionUS, RegionUK, RegionDE, RegionFR, RegionAU,
		RegionCA, RegionJP, RegionIT, RegionIN, RegionES:
		return true
	}
	return false
}

// ParseRegion converts a string into a known Region, defaulting to US.
func ParseRegion(value string) Region {
	r := Region(value)
	if r.Valid() {
		return r
	}
	return RegionUS
}

// SearchParams defines parameters for catalog search.
type SearchParams struct {
	Keywords string
	Title    string
	Author   string
	Narrator string
	Limit    int // default 25, max 50
}

// SearchResult is one catalog hit, carrying everything needed to build a
// book request from it.
type SearchResult struct {
	ASIN           string    `json:"asin"`
	Title          string    `json:"title"`
	Subtitle       string    `json:"subtitle,omitempty"`
	Authors        []string  `json:"authors"`
	Narrators      []string  `json:"narrators"`
	SeriesName     string    `json:"series_name,omitempty"`
	SeriesPosition string    `json:"series_position,omitempty"`
	CoverURL       string    `json:"cover_url,omitempty"`
	RuntimeMinutes int       `json:"runtime_minutes"`
	ReleaseDate    time.Time `json:"release_date,omitempty"`
}
