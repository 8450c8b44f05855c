package search

import "context"

// Result is a single motion hit. Titel and Snippet may carry <mark> tags.
type Result struct {
	ID      string `json:"id"`
	Titel   string `json:"titel"`
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// AntragRecord is the data we index for a motion.
type AntragRecord struct {
	ID          string `json:"id"`
	Titel       string `json:"titel"`
	Antragstext string `json:"antragstext"`
	Begruendung string `json:"begruendung"`
	CreatedAt   int64  `json:"createdAt"`
}

const defaultLimit = 20

func normalize(q Query) Query {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = defaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
