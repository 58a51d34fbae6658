package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wayfare/api/internal/place"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users / actor identity ----

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, role FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (display_name, role)
		VALUES ($1, 'contributor')
		RETURNING id, display_name, role
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Role); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, role FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ---- refresh sessions / token revocation (PG fallback for Redis) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1 AND rs.revoked_at IS NULL AND rs.expires_at > NOW()
	`
	var user User
	if err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1)`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// ---- places ----

// SavePlace upserts the working copy: the document and its suggestion
// collections travel together as JSONB. The edit history is NOT written
// here; accepted entries are appended individually via InsertEditLog so
// the audit table stays append-only.
func (s *PostgresStore) SavePlace(ctx context.Context, p *place.Place) error {
	docJSON, err := json.Marshal(p.Doc)
	if err != nil {
		return fmt.Errorf("marshal place doc: %w", err)
	}
	suggestionsJSON, err := json.Marshal(p.Suggestions)
	if err != nil {
		return fmt.Errorf("marshal place suggestions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO places (id, doc, suggestions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET doc=EXCLUDED.doc, suggestions=EXCLUDED.suggestions, updated_at=EXCLUDED.updated_at
	`, p.ID, docJSON, suggestionsJSON, p.CreatedAt.Time(), p.UpdatedAt.Time())
	if err != nil {
		return fmt.Errorf("save place %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetPlace(ctx context.Context, placeID string) (*place.Place, error) {
	const query = `SELECT id, doc, suggestions, created_at, updated_at FROM places WHERE id=$1`
	p, err := scanPlace(s.db.QueryRowContext(ctx, query, placeID))
	if err != nil {
		return nil, err
	}
	history, err := s.ListEditLog(ctx, placeID, 0)
	if err != nil {
		return nil, err
	}
	p.EditHistory = history
	p.EnsureCollections()
	return p, nil
}

func (s *PostgresStore) ListPlaces(ctx context.Context) ([]*place.Place, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc, suggestions, created_at, updated_at FROM places ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	defer rows.Close()

	items := []*place.Place{}
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		p.EnsureCollections()
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeletePlace(ctx context.Context, placeID string) error {
	// Edit log rows are deliberately retained: the audit trail outlives
	// the record it describes.
	result, err := s.db.ExecContext(ctx, `DELETE FROM places WHERE id=$1`, placeID)
	if err != nil {
		return fmt.Errorf("delete place %s: %w", placeID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete place %s: %w", placeID, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlace(row rowScanner) (*place.Place, error) {
	var (
		id              string
		docJSON         []byte
		suggestionsJSON []byte
		createdAt       time.Time
		updatedAt       time.Time
	)
	if err := row.Scan(&id, &docJSON, &suggestionsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p := &place.Place{
		ID:        id,
		CreatedAt: place.FromTime(createdAt),
		UpdatedAt: place.FromTime(updatedAt),
	}
	if len(docJSON) > 0 {
		if err := json.Unmarshal(docJSON, &p.Doc); err != nil {
			return nil, fmt.Errorf("decode place doc %s: %w", id, err)
		}
	}
	if len(suggestionsJSON) > 0 {
		if err := json.Unmarshal(suggestionsJSON, &p.Suggestions); err != nil {
			return nil, fmt.Errorf("decode place suggestions %s: %w", id, err)
		}
	}
	return p, nil
}

// ---- edit log ----

func (s *PostgresStore) InsertEditLog(ctx context.Context, placeID string, entry place.EditLogEntry) error {
	previousJSON, err := json.Marshal(entry.PreviousValue)
	if err != nil {
		return fmt.Errorf("marshal previous value: %w", err)
	}
	newJSON, err := json.Marshal(entry.NewValue)
	if err != nil {
		return fmt.Errorf("marshal new value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edit_log (place_id, field_path, previous_value, new_value, accepted_by, accepted_at, suggestion_id, commit_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, placeID, entry.FieldPath, previousJSON, newJSON, entry.AcceptedBy, entry.AcceptedAt.Time(), entry.SuggestionID, entry.CommitHash)
	if err != nil {
		return fmt.Errorf("insert edit log: %w", err)
	}
	return nil
}

// ListEditLog returns a place's audit entries oldest-first, the order the
// in-memory record keeps them in. limit <= 0 means unbounded.
func (s *PostgresStore) ListEditLog(ctx context.Context, placeID string, limit int) ([]place.EditLogEntry, error) {
	query := `
		SELECT field_path, previous_value, new_value, accepted_by, accepted_at, suggestion_id, commit_hash
		FROM edit_log
		WHERE place_id = $1
		ORDER BY id ASC
	`
	args := []any{placeID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.queryEditLog(ctx, query, args)
}

// ListEditLogFiltered returns entries newest-first for display, optionally
// narrowed by exact field path, accepting actor, and a substring match on
// either the path or the merged value.
func (s *PostgresStore) ListEditLogFiltered(ctx context.Context, placeID, fieldPath, actor, query string, limit int) ([]place.EditLogEntry, error) {
	sqlQuery := `
		SELECT field_path, previous_value, new_value, accepted_by, accepted_at, suggestion_id, commit_hash
		FROM edit_log
		WHERE place_id = $1
	`
	args := []any{placeID}
	argN := 2
	if fieldPath != "" {
		sqlQuery += fmt.Sprintf(" AND field_path = $%d", argN)
		args = append(args, fieldPath)
		argN++
	}
	if actor != "" {
		sqlQuery += fmt.Sprintf(" AND accepted_by = $%d", argN)
		args = append(args, actor)
		argN++
	}
	if query != "" {
		sqlQuery += fmt.Sprintf(" AND (field_path ILIKE $%d OR new_value::text ILIKE $%d)", argN, argN)
		args = append(args, "%"+query+"%")
		argN++
	}
	sqlQuery += " ORDER BY id DESC"
	if limit <= 0 {
		limit = 50
	}
	sqlQuery += fmt.Sprintf(" LIMIT $%d", argN)
	args = append(args, limit)

	return s.queryEditLog(ctx, sqlQuery, args)
}

func (s *PostgresStore) queryEditLog(ctx context.Context, query string, args []any) ([]place.EditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edit log: %w", err)
	}
	defer rows.Close()

	entries := []place.EditLogEntry{}
	for rows.Next() {
		var (
			entry        place.EditLogEntry
			previousJSON []byte
			newJSON      []byte
			acceptedAt   time.Time
		)
		if err := rows.Scan(&entry.FieldPath, &previousJSON, &newJSON, &entry.AcceptedBy, &acceptedAt, &entry.SuggestionID, &entry.CommitHash); err != nil {
			return nil, fmt.Errorf("scan edit log: %w", err)
		}
		if err := json.Unmarshal(previousJSON, &entry.PreviousValue); err != nil {
			return nil, fmt.Errorf("decode previous value: %w", err)
		}
		if err := json.Unmarshal(newJSON, &entry.NewValue); err != nil {
			return nil, fmt.Errorf("decode new value: %w", err)
		}
		entry.AcceptedAt = place.FromTime(acceptedAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ---- summary ----

func (s *PostgresStore) SummaryCounts(ctx context.Context) (places int, pendingSuggestions int, acceptedEdits int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM places`).Scan(&places); err != nil {
		return 0, 0, 0, fmt.Errorf("count places: %w", err)
	}
	const pendingQuery = `
		SELECT COUNT(*)
		FROM places,
			jsonb_each(suggestions) AS path_entry(field_path, list),
			jsonb_array_elements(path_entry.list) AS item
		WHERE item->>'status' = 'pending'
	`
	if err = s.db.QueryRowContext(ctx, pendingQuery).Scan(&pendingSuggestions); err != nil {
		return 0, 0, 0, fmt.Errorf("count pending suggestions: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edit_log`).Scan(&acceptedEdits); err != nil {
		return 0, 0, 0, fmt.Errorf("count edit log: %w", err)
	}
	return places, pendingSuggestions, acceptedEdits, nil
}
