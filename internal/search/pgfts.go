package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across places, their embedded suggestions,
// and the edit log using plainto_tsquery and ts_rank, with ts_headline for
// snippets. Places rank against the generated fts column; suggestions and
// edits build their vectors on the fly, which is fine at fallback volumes.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Places sub-query
	if q.FilterType == "" || q.FilterType == ResultPlace {
		placeWhere := "p.fts @@ " + tsQuery
		if q.FilterPlaceID != "" {
			placeWhere += fmt.Sprintf(" AND p.id = $%d", argN)
			args = append(args, q.FilterPlaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'place'::text AS type, p.id, coalesce(p.doc->>'name', '') AS title,
				ts_headline('english', coalesce(p.doc->>'summary', ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS place_id, ''::text AS field_path, ''::text AS status,
				ts_rank(p.fts, %s) AS rank
			FROM places p
			WHERE %s`, tsQuery, tsQuery, placeWhere))
	}

	// Suggestions sub-query, expanding the per-field JSONB arrays
	if q.FilterType == "" || q.FilterType == ResultSuggestion {
		sugVector := "to_tsvector('english', f.key || ' ' || coalesce(s.value->>'content', ''))"
		sugWhere := sugVector + " @@ " + tsQuery
		if q.FilterPlaceID != "" {
			sugWhere += fmt.Sprintf(" AND p.id = $%d", argN)
			args = append(args, q.FilterPlaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'suggestion'::text AS type, s.value->>'id' AS id, f.key AS title,
				ts_headline('english', coalesce(s.value->>'content', ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS place_id, f.key AS field_path, coalesce(s.value->>'status', '') AS status,
				ts_rank(%s, %s) AS rank
			FROM places p,
				jsonb_each(p.suggestions) AS f,
				jsonb_array_elements(f.value) AS s
			WHERE %s`, tsQuery, sugVector, tsQuery, sugWhere))
	}

	// Edit log sub-query
	if q.FilterType == "" || q.FilterType == ResultEdit {
		editVector := "to_tsvector('english', el.field_path || ' ' || coalesce(el.new_value::text, ''))"
		editWhere := editVector + " @@ " + tsQuery
		if q.FilterPlaceID != "" {
			editWhere += fmt.Sprintf(" AND el.place_id = $%d", argN)
			args = append(args, q.FilterPlaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'edit'::text AS type, el.id::text, el.field_path AS title,
				ts_headline('english', coalesce(el.new_value::text, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				el.place_id, el.field_path, ''::text AS status,
				ts_rank(%s, %s) AS rank
			FROM edit_log el
			WHERE %s`, tsQuery, editVector, tsQuery, editWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, place_id, field_path, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.PlaceID, &r.FieldPath, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PlaceRecord, []SuggestionRecord, []EditRecord, error) {
	placeRows, err := p.db.QueryContext(ctx, `
		SELECT id,
			coalesce(doc->>'name', ''),
			coalesce(doc->>'summary', ''),
			coalesce(doc->>'city', ''),
			coalesce(doc->>'country', ''),
			coalesce(doc->'tags', '[]'::jsonb)
		FROM places
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load places: %w", err)
	}
	defer placeRows.Close()

	places := make([]PlaceRecord, 0)
	for placeRows.Next() {
		var rec PlaceRecord
		var tagsJSON []byte
		if err := placeRows.Scan(&rec.ID, &rec.Name, &rec.Summary, &rec.City, &rec.Country, &tagsJSON); err != nil {
			return nil, nil, nil, fmt.Errorf("scan place: %w", err)
		}
		if err := json.Unmarshal(tagsJSON, &rec.Tags); err != nil {
			rec.Tags = nil
		}
		places = append(places, rec)
	}
	if err := placeRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate places: %w", err)
	}

	sugRows, err := p.db.QueryContext(ctx, `
		SELECT s.value->>'id', p.id, f.key,
			coalesce(s.value->>'content', ''),
			coalesce(s.value->>'status', ''),
			coalesce(s.value->>'author', '')
		FROM places p,
			jsonb_each(p.suggestions) AS f,
			jsonb_array_elements(f.value) AS s
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load suggestions: %w", err)
	}
	defer sugRows.Close()

	suggestions := make([]SuggestionRecord, 0)
	for sugRows.Next() {
		var rec SuggestionRecord
		if err := sugRows.Scan(&rec.ID, &rec.PlaceID, &rec.FieldPath, &rec.Content, &rec.Status, &rec.SuggestedBy); err != nil {
			return nil, nil, nil, fmt.Errorf("scan suggestion: %w", err)
		}
		suggestions = append(suggestions, rec)
	}
	if err := sugRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate suggestions: %w", err)
	}

	editRows, err := p.db.QueryContext(ctx, `
		SELECT el.id::text, el.place_id, el.field_path,
			coalesce(el.new_value::text, ''), el.accepted_by
		FROM edit_log el
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load edits: %w", err)
	}
	defer editRows.Close()

	edits := make([]EditRecord, 0)
	for editRows.Next() {
		var rec EditRecord
		if err := editRows.Scan(&rec.ID, &rec.PlaceID, &rec.FieldPath, &rec.NewValue, &rec.AcceptedBy); err != nil {
			return nil, nil, nil, fmt.Errorf("scan edit: %w", err)
		}
		edits = append(edits, rec)
	}
	if err := editRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate edits: %w", err)
	}

	return places, suggestions, edits, nil
}
