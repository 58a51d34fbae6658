package search

import (
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

func TestBuildSearchRequestsCarriesQueryText(t *testing.T) {
	requests := buildSearchRequests(Query{Text: "teahouse dusk"})
	if len(requests) != 3 {
		t.Fatalf("expected one request per index, got %d", len(requests))
	}
	for _, sr := range requests {
		if sr.Query != "teahouse dusk" {
			t.Fatalf("request for %s lost the query text: %q", sr.IndexUID, sr.Query)
		}
		if sr.Limit != 20 {
			t.Fatalf("expected default limit 20, got %d", sr.Limit)
		}
	}
}

func TestBuildSearchRequestsFilters(t *testing.T) {
	requests := buildSearchRequests(Query{
		Text:          "tags",
		FilterType:    ResultSuggestion,
		FilterPlaceID: "plc_teahouse_kyoto",
		Limit:         5,
	})
	if len(requests) != 1 {
		t.Fatalf("expected type filter to narrow to one index, got %d", len(requests))
	}
	sr := requests[0]
	if sr.IndexUID != idxSuggestions {
		t.Fatalf("expected %s, got %s", idxSuggestions, sr.IndexUID)
	}
	filters, ok := sr.Filter.([]string)
	if !ok || len(filters) != 1 || filters[0] != `placeId = "plc_teahouse_kyoto"` {
		t.Fatalf("unexpected filter: %v", sr.Filter)
	}
	if sr.Limit != 5 {
		t.Fatalf("expected limit 5, got %d", sr.Limit)
	}
}

func TestBuildSearchRequestsPlaceIndexUnfiltered(t *testing.T) {
	requests := buildSearchRequests(Query{Text: "kyoto", FilterPlaceID: "plc_1"})
	for _, sr := range requests {
		if sr.IndexUID == idxPlaces && sr.Filter != nil {
			t.Fatalf("place index must not carry a placeId filter: %v", sr.Filter)
		}
		if sr.IndexUID != idxPlaces && sr.Filter == nil {
			t.Fatalf("%s must carry the placeId filter", sr.IndexUID)
		}
	}
}

func TestPlaceFilterQuotesID(t *testing.T) {
	got := placeFilter(`plc_1`)
	if got != `placeId = "plc_1"` {
		t.Fatalf("unexpected filter expression: %s", got)
	}
}

func TestHitToResultPrefersHighlightedFields(t *testing.T) {
	hit := meili.Hit{
		"id":      json.RawMessage(`"plc_1"`),
		"name":    json.RawMessage(`"Teahouse on the Ridge"`),
		"summary": json.RawMessage(`"Hillside teahouse, best at dusk."`),
		"_formatted": json.RawMessage(
			`{"name":"<mark>Teahouse</mark> on the Ridge","summary":"Hillside <mark>teahouse</mark>, best at dusk."}`),
	}
	r := hitToResult(hit, ResultPlace)
	if r.Title != "<mark>Teahouse</mark> on the Ridge" {
		t.Fatalf("expected highlighted title, got %q", r.Title)
	}
	if r.PlaceID != "plc_1" {
		t.Fatalf("place hits must use their own id as placeId, got %q", r.PlaceID)
	}
}

func TestHitToResultFallsBackToPlainFields(t *testing.T) {
	hit := meili.Hit{
		"id":        json.RawMessage(`"sug-1"`),
		"placeId":   json.RawMessage(`"plc_1"`),
		"fieldPath": json.RawMessage(`"summary"`),
		"content":   json.RawMessage(`"Best at dusk."`),
		"status":    json.RawMessage(`"pending"`),
	}
	r := hitToResult(hit, ResultSuggestion)
	if r.Title != "summary" || r.Snippet != "Best at dusk." || r.Status != "pending" {
		t.Fatalf("unexpected result: %+v", r)
	}
}
