package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxPlaces      = "wayfare_places"
	idxSuggestions = "wayfare_suggestions"
	idxEdits       = "wayfare_edits"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// Returns nil if the initial connection fails (caller should proceed without it).
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxPlaces,
			primaryKey: "id",
			filterable: []string{"city", "country", "tags"},
			searchable: []string{"name", "summary", "city", "country", "tags"},
		},
		{
			uid:        idxSuggestions,
			primaryKey: "id",
			filterable: []string{"placeId", "status", "fieldPath"},
			searchable: []string{"content", "fieldPath"},
		},
		{
			uid:        idxEdits,
			primaryKey: "id",
			filterable: []string{"placeId", "fieldPath"},
			searchable: []string{"newValue", "fieldPath"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
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
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// buildSearchRequests expands a Query into one MultiSearch request per
// target index. The query text travels on each request; MultiSearch has no
// shared text parameter.
func buildSearchRequests(q Query) []*meili.SearchRequest {
	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxPlaces, ResultPlace},
		{idxSuggestions, ResultSuggestion},
		{idxEdits, ResultEdit},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		var filters []string
		if q.FilterPlaceID != "" && ti.rtyp != ResultPlace {
			filters = append(filters, placeFilter(q.FilterPlaceID))
		}
		if len(filters) > 0 {
			sr.Filter = filters
		}
		queries = append(queries, sr)
	}
	return queries
}

// Search queries all three indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	queries := buildSearchRequests(q)
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxPlaces:
		return ResultPlace
	case idxSuggestions:
		return ResultSuggestion
	case idxEdits:
		return ResultEdit
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.PlaceID = decodeString(hit, "placeId")
	r.FieldPath = decodeString(hit, "fieldPath")
	r.Status = decodeString(hit, "status")

	switch rtyp {
	case ResultPlace:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "summary"), decodeString(hit, "summary"))
		r.PlaceID = r.ID // place's own ID
	case ResultSuggestion:
		r.Title = r.FieldPath
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	case ResultEdit:
		r.Title = r.FieldPath
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "newValue"), decodeString(hit, "newValue"))
	}
	return r
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
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexPlace adds or updates a place in the search index.
func (m *Meili) IndexPlace(p PlaceRecord) error {
	_, err := m.client.Index(idxPlaces).AddDocuments([]PlaceRecord{p}, nil)
	return err
}

// IndexSuggestion adds or updates a suggestion in the search index.
func (m *Meili) IndexSuggestion(s SuggestionRecord) error {
	_, err := m.client.Index(idxSuggestions).AddDocuments([]SuggestionRecord{s}, nil)
	return err
}

// IndexEdit adds or updates an accepted edit in the search index.
func (m *Meili) IndexEdit(e EditRecord) error {
	_, err := m.client.Index(idxEdits).AddDocuments([]EditRecord{e}, nil)
	return err
}

// DeletePlace removes a place from the search index.
func (m *Meili) DeletePlace(id string) error {
	_, err := m.client.Index(idxPlaces).DeleteDocument(id, nil)
	return err
}

// placeFilter builds the Meilisearch filter expression selecting every
// document that belongs to one place.
func placeFilter(placeID string) string {
	return fmt.Sprintf("placeId = %q", placeID)
}

// DeleteByPlace removes the suggestion and edit documents belonging to a
// place, so deleting a place leaves no orphaned search hits.
func (m *Meili) DeleteByPlace(placeID string) error {
	filter := placeFilter(placeID)
	if _, err := m.client.Index(idxSuggestions).DeleteDocumentsByFilter(filter, nil); err != nil {
		return err
	}
	_, err := m.client.Index(idxEdits).DeleteDocumentsByFilter(filter, nil)
	return err
}

// IndexPlaces bulk-indexes places.
func (m *Meili) IndexPlaces(places []PlaceRecord) error {
	if len(places) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPlaces).AddDocuments(places, nil)
	return err
}

// IndexSuggestions bulk-indexes suggestions.
func (m *Meili) IndexSuggestions(suggestions []SuggestionRecord) error {
	if len(suggestions) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSuggestions).AddDocuments(suggestions, nil)
	return err
}

// IndexEdits bulk-indexes accepted edits.
func (m *Meili) IndexEdits(edits []EditRecord) error {
	if len(edits) == 0 {
		return nil
	}
	_, err := m.client.Index(idxEdits).AddDocuments(edits, nil)
	return err
}
