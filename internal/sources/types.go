package sources

import (
	"encoding/json"
	"strconv"
)

// Title accepts both the plain string and the {romaji, english, native}
// object forms the API uses depending on the provider
type Title struct {
	Romaji  string `json:"romaji,omitempty"`
	English string `json:"english,omitempty"`
	Native  string `json:"native,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Title) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.English = s
		return nil
	}
	type plain Title
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Title(p)
	return nil
}

// String returns the best display title
func (t Title) String() string {
	switch {
	case t.English != "":
		return t.English
	case t.Romaji != "":
		return t.Romaji
	default:
		return t.Native
	}
}

// EpisodeID accepts string or numeric identifiers
type EpisodeID string

// UnmarshalJSON implements json.Unmarshaler
func (id *EpisodeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = EpisodeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = EpisodeID(n.String())
	return nil
}

// Episode is an entry of an anime's episode list
type Episode struct {
	ID     EpisodeID `json:"id"`
	Number int       `json:"number"`
	Title  string    `json:"title,omitempty"`
	URL    string    `json:"url,omitempty"`
}

// AnimeInfo is the info response for one anime
type AnimeInfo struct {
	ID            string    `json:"id"`
	Title         Title     `json:"title"`
	Image         string    `json:"image,omitempty"`
	Description   string    `json:"description,omitempty"`
	Genres        []string  `json:"genres,omitempty"`
	Status        string    `json:"status,omitempty"`
	TotalEpisodes int       `json:"totalEpisodes,omitempty"`
	Episodes      []Episode `json:"episodes,omitempty"`
}

// EpisodeCount returns the best known episode count
func (a *AnimeInfo) EpisodeCount() int {
	if len(a.Episodes) > 0 {
		return len(a.Episodes)
	}
	return a.TotalEpisodes
}

// SearchResult is one hit of a catalog search
type SearchResult struct {
	ID            string `json:"id"`
	Title         Title  `json:"title"`
	Image         string `json:"image,omitempty"`
	ReleaseDate   string `json:"releaseDate,omitempty"`
	Type          string `json:"type,omitempty"`
	TotalEpisodes int    `json:"totalEpisodes,omitempty"`
}

// SearchPage is a page of search results
type SearchPage struct {
	CurrentPage int            `json:"currentPage"`
	HasNextPage bool           `json:"hasNextPage"`
	Results     []SearchResult `json:"results"`
}

// ErrorResponse represents an API error body
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
