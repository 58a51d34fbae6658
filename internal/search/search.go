package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPlace      ResultType = "place"
	ResultSuggestion ResultType = "suggestion"
	ResultEdit       ResultType = "edit"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	PlaceID   string     `json:"placeId"`
	FieldPath string     `json:"fieldPath,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterType    ResultType // empty = all types
	FilterPlaceID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexPlace(p PlaceRecord) error
	IndexSuggestion(s SuggestionRecord) error
	IndexEdit(e EditRecord) error
	DeletePlace(id string) error
	DeleteByPlace(placeID string) error
}

// PlaceRecord is the data we index for a place.
type PlaceRecord struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Summary string   `json:"summary"`
	City    string   `json:"city"`
	Country string   `json:"country"`
	Tags    []string `json:"tags"`
}

// SuggestionRecord is the data we index for a pending or resolved suggestion.
type SuggestionRecord struct {
	ID          string `json:"id"`
	PlaceID     string `json:"placeId"`
	FieldPath   string `json:"fieldPath"`
	Content     string `json:"content"`
	Status      string `json:"status"`
	SuggestedBy string `json:"suggestedBy"`
}

// EditRecord is the data we index for an accepted edit.
type EditRecord struct {
	ID         string `json:"id"`
	PlaceID    string `json:"placeId"`
	FieldPath  string `json:"fieldPath"`
	NewValue   string `json:"newValue"`
	AcceptedBy string `json:"acceptedBy"`
}
