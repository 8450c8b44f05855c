package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxAntraege = "fsr_antraege"

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili searches and indexes motions in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  zerolog.Logger
}

// NewMeili creates the client and configures the index when reachable. An
// unreachable server is retried by the health loop.
func NewMeili(url, apiKey string, logger zerolog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxAntraege,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug().Err(err).Str("index", idxAntraege).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxAntraege)
	searchable := []string{"titel", "antragstext", "begruendung"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn().Err(err).Str("index", idxAntraege).Msg("update searchable attributes")
	}
	sortable := []string{"createdAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.logger.Warn().Err(err).Str("index", idxAntraege).Msg("update sortable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}
	q = normalize(q)

	resp, err := m.client.Index(idxAntraege).SearchWithContext(ctx, q.Text, &meili.SearchRequest{
		Limit:                 int64(q.Limit),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"titel", "antragstext", "begruendung"},
		AttributesToCrop:      []string{"antragstext", "begruendung"},
		CropLength:            30,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, err
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:    decodeString(hit, "id"),
		Titel: firstNonBlank(decodeFormattedString(hit, "titel"), decodeString(hit, "titel")),
		Snippet: firstNonBlank(
			decodeFormattedString(hit, "antragstext"),
			decodeFormattedString(hit, "begruendung"),
			decodeString(hit, "antragstext"),
		),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexAntraege(records []AntragRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxAntraege).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteAntrag(id string) error {
	_, err := m.client.Index(idxAntraege).DeleteDocument(id, nil)
	return err
}
