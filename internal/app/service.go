package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"wayfare/api/internal/auth"
	"wayfare/api/internal/config"
	"wayfare/api/internal/fieldpath"
	"wayfare/api/internal/gitarchive"
	"wayfare/api/internal/place"
	"wayfare/api/internal/rbac"
	"wayfare/api/internal/search"
	"wayfare/api/internal/store"
	"wayfare/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type AddSuggestionInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type ResolveSuggestionInput struct {
	Path       string `json:"path"`
	Resolution string `json:"resolution"`
}

type HistoryFilterInput struct {
	Path  string
	Actor string
	Query string
	Limit int
}

var allowedResolutions = map[string]place.Resolution{
	"accepted": place.ResolutionAccepted,
	"rejected": place.ResolutionRejected,
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	SavePlace(context.Context, *place.Place) error
	GetPlace(context.Context, string) (*place.Place, error)
	ListPlaces(context.Context) ([]*place.Place, error)
	DeletePlace(context.Context, string) error
	InsertEditLog(context.Context, string, place.EditLogEntry) error
	ListEditLog(context.Context, string, int) ([]place.EditLogEntry, error)
	ListEditLogFiltered(context.Context, string, string, string, string, int) ([]place.EditLogEntry, error)
	SummaryCounts(context.Context) (int, int, int, error)
	Ping(ctx context.Context) error
}

// sessionStore covers refresh token storage. PostgresStore satisfies it, and
// the Redis store is swapped in when REDIS_URL is configured.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type archiveService interface {
	CommitSnapshot(placeID string, doc map[string]any, author, message string) (string, error)
	History(placeID string, limit int) ([]gitarchive.Commit, error)
	SnapshotByHash(placeID, hash string) (map[string]any, error)
}

type backupStore interface {
	SavePlace(ctx context.Context, placeID string, snapshot any) error
	DeletePlace(ctx context.Context, placeID string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	archive  archiveService
	search   *search.Service
	backup   backupStore
	policy   place.Policy
}

func New(cfg config.Config, dataStore *store.PostgresStore, archive *gitarchive.Service, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		archive:  archive,
		search:   searchService,
		policy:   place.DefaultPolicy(),
	}
}

// NewWithSessionStore uses an external session store (Redis) for refresh
// tokens instead of PostgreSQL.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, archive *gitarchive.Service, searchService *search.Service) *Service {
	svc := New(cfg, dataStore, archive, searchService)
	svc.sessions = sessions
	return svc
}

// AttachBackup enables best-effort mirroring of place records to object storage.
func (s *Service) AttachBackup(b backupStore) {
	s.backup = b
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Bootstrap(ctx context.Context) error {
	places, err := s.store.ListPlaces(ctx)
	if err != nil {
		return err
	}
	if len(places) > 0 {
		s.search.ReindexAllFromPG(ctx)
		return nil
	}

	owner, err := s.store.EnsureUserByName(ctx, "Avery")
	if err != nil {
		return err
	}

	seeds := []struct {
		ID  string
		Doc map[string]any
	}{
		{
			ID: "plc_teahouse_kyoto",
			Doc: map[string]any{
				"name":    "Teahouse on the Ridge",
				"summary": "Hillside teahouse overlooking the old town, best at dusk.",
				"city":    "Kyoto",
				"country": "Japan",
				"tags":    []string{"quiet", "scenic"},
				"amenities": []any{
					map[string]any{"label": "Tatami seating", "available": true},
				},
			},
		},
		{
			ID: "plc_harbor_market",
			Doc: map[string]any{
				"name":    "Harbor Night Market",
				"summary": "Waterfront food stalls open from sunset until midnight.",
				"city":    "Kaohsiung",
				"country": "Taiwan",
				"tags":    []string{"food", "lively"},
			},
		},
	}

	for _, seed := range seeds {
		p := place.New(seed.ID)
		p.Doc = seed.Doc
		if err := s.store.SavePlace(ctx, p); err != nil {
			return err
		}
		if _, err := s.archive.CommitSnapshot(p.ID, p.Doc, owner.DisplayName, "Import place baseline"); err != nil {
			return err
		}
	}

	// Seed a pending discussion and one already-accepted edit on the first place.
	seeded, err := s.store.GetPlace(ctx, seeds[0].ID)
	if err != nil {
		return err
	}
	if _, err := seeded.AddSuggestion("tags", "Marcus K.", "quiet, scenic, historic"); err != nil {
		return err
	}
	accepted, err := seeded.AddSuggestion("summary", "Jamie L.", "Hillside teahouse overlooking the old town. Arrive before dusk for the terrace seats.")
	if err != nil {
		return err
	}
	entry, err := seeded.Resolve(s.policy, "summary", accepted.ID, place.ResolutionAccepted, owner.DisplayName)
	if err != nil {
		return err
	}
	if entry != nil {
		hash, err := s.archive.CommitSnapshot(seeded.ID, seeded.Doc, owner.DisplayName, "Accept suggestion for summary")
		if err != nil {
			return err
		}
		entry.CommitHash = hash
		if err := s.store.InsertEditLog(ctx, seeded.ID, *entry); err != nil {
			return err
		}
	}
	if err := s.store.SavePlace(ctx, seeded); err != nil {
		return err
	}

	s.search.ReindexAllFromPG(ctx)
	return nil
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The Redis store only tracks the user id; display name and role come
	// from the authoritative record so role changes apply on refresh.
	user, err = s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) ListPlaces(ctx context.Context) ([]map[string]any, error) {
	places, err := s.store.ListPlaces(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(places))
	for _, p := range places {
		items = append(items, map[string]any{
			"id":                 p.ID,
			"name":               docString(p.Doc, "name"),
			"city":               docString(p.Doc, "city"),
			"country":            docString(p.Doc, "country"),
			"pendingSuggestions": p.PendingCount(),
			"updatedAt":          p.UpdatedAt,
		})
	}
	return items, nil
}

func (s *Service) GetPlace(ctx context.Context, placeID string) (*place.Place, error) {
	return s.store.GetPlace(ctx, placeID)
}

func (s *Service) CreatePlace(ctx context.Context, doc map[string]any, userName string) (*place.Place, error) {
	p := place.New(util.NewID("plc"))
	if doc != nil {
		p.Doc = doc
	}
	if err := s.store.SavePlace(ctx, p); err != nil {
		return nil, err
	}
	if _, err := s.archive.CommitSnapshot(p.ID, p.Doc, userName, "Create place"); err != nil {
		log.Printf("archive: initial snapshot for %s: %v", p.ID, err)
	}
	s.mirrorPlace(p)
	s.search.IndexPlace(placeSearchRecord(p))
	return p, nil
}

// UpdatePlaceContent replaces the place document wholesale. Suggestions and
// edit history are untouched; direct document writes bypass the suggestion
// flow and are archived as their own commits.
func (s *Service) UpdatePlaceContent(ctx context.Context, placeID string, doc map[string]any, userName string) (*place.Place, error) {
	p, err := s.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	p.Doc = doc
	p.Touch()
	if err := s.store.SavePlace(ctx, p); err != nil {
		return nil, err
	}
	if _, err := s.archive.CommitSnapshot(p.ID, p.Doc, userName, "Update place content"); err != nil {
		log.Printf("archive: snapshot for %s: %v", p.ID, err)
	}
	s.mirrorPlace(p)
	s.search.IndexPlace(placeSearchRecord(p))
	return p, nil
}

func (s *Service) DeletePlace(ctx context.Context, placeID string) error {
	if err := s.store.DeletePlace(ctx, placeID); err != nil {
		return err
	}
	s.search.DeletePlace(placeID)
	if s.backup != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.backup.DeletePlace(ctx, placeID); err != nil {
				log.Printf("backup: delete place %s: %v", placeID, err)
			}
		}()
	}
	return nil
}

func (s *Service) AddSuggestion(ctx context.Context, placeID, userName string, input AddSuggestionInput) (place.Suggestion, error) {
	path := strings.TrimSpace(input.Path)
	if path == "" {
		return place.Suggestion{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "path is required", nil)
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return place.Suggestion{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	p, err := s.store.GetPlace(ctx, placeID)
	if err != nil {
		return place.Suggestion{}, err
	}

	suggestion, err := p.AddSuggestion(path, userName, content)
	if err != nil {
		if errors.Is(err, fieldpath.ErrInvalidPath) {
			return place.Suggestion{}, domainError(http.StatusUnprocessableEntity, "INVALID_PATH", "field path is not addressable", map[string]any{"path": path})
		}
		return place.Suggestion{}, err
	}

	if err := s.store.SavePlace(ctx, p); err != nil {
		return place.Suggestion{}, err
	}
	s.mirrorPlace(p)
	s.search.IndexSuggestion(search.SuggestionRecord{
		ID:          suggestion.ID,
		PlaceID:     p.ID,
		FieldPath:   path,
		Content:     suggestion.Content,
		Status:      string(suggestion.Status),
		SuggestedBy: suggestion.Author,
	})
	return suggestion, nil
}

// ListSuggestions returns suggestions for one path, or all paths when path
// is empty. Lists are returned in insertion order.
func (s *Service) ListSuggestions(ctx context.Context, placeID, path string) (map[string][]place.Suggestion, error) {
	p, err := s.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) != "" {
		return map[string][]place.Suggestion{path: p.ListSuggestions(path)}, nil
	}
	return p.Suggestions, nil
}

func (s *Service) ResolveSuggestion(ctx context.Context, placeID, suggestionID, userName string, input ResolveSuggestionInput) (map[string]any, error) {
	path := strings.TrimSpace(input.Path)
	if path == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "path is required", nil)
	}
	resolution, ok := allowedResolutions[strings.ToLower(strings.TrimSpace(input.Resolution))]
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "resolution must be 'accepted' or 'rejected'", nil)
	}

	p, err := s.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}

	target, found := findSuggestion(p, path, suggestionID)
	if !found {
		log.Printf("resolve: suggestion %s not found on %s %s, skipping", suggestionID, placeID, path)
		return resolvePayload(p, nil, false), nil
	}
	if target.Status != place.StatusPending {
		log.Printf("resolve: suggestion %s on %s already %s, skipping", suggestionID, placeID, target.Status)
		return resolvePayload(p, nil, false), nil
	}

	entry, err := p.Resolve(s.policy, path, suggestionID, resolution, userName)
	if err != nil {
		if errors.Is(err, fieldpath.ErrPathConflict) || errors.Is(err, fieldpath.ErrInvalidPath) {
			return nil, domainError(http.StatusUnprocessableEntity, "PATH_CONFLICT", "field path conflicts with existing document structure", map[string]any{"path": path})
		}
		return nil, err
	}

	if entry != nil {
		hash, err := s.archive.CommitSnapshot(p.ID, p.Doc, userName, "Accept suggestion for "+path)
		if err != nil {
			log.Printf("archive: snapshot for %s: %v", p.ID, err)
		} else {
			entry.CommitHash = hash
		}
		if err := s.store.InsertEditLog(ctx, p.ID, *entry); err != nil {
			return nil, err
		}
	}

	// The in-memory state is authoritative from here; persistence is
	// asynchronous and optimistic.
	s.persistAsync(p)
	s.mirrorPlace(p)
	s.search.IndexPlace(placeSearchRecord(p))
	s.search.IndexSuggestion(search.SuggestionRecord{
		ID:          suggestionID,
		PlaceID:     p.ID,
		FieldPath:   path,
		Content:     target.Content,
		Status:      string(resolutionStatus(resolution)),
		SuggestedBy: target.Author,
	})
	if entry != nil {
		s.search.IndexEdit(search.EditRecord{
			ID:         entry.SuggestionID,
			PlaceID:    p.ID,
			FieldPath:  entry.FieldPath,
			NewValue:   fmt.Sprintf("%v", entry.NewValue),
			AcceptedBy: entry.AcceptedBy,
		})
	}

	return resolvePayload(p, entry, true), nil
}

func (s *Service) History(ctx context.Context, placeID string, filters HistoryFilterInput) (map[string]any, error) {
	if _, err := s.store.GetPlace(ctx, placeID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListEditLogFiltered(
		ctx,
		placeID,
		strings.TrimSpace(filters.Path),
		strings.TrimSpace(filters.Actor),
		strings.TrimSpace(filters.Query),
		filters.Limit,
	)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(entries))
	for _, row := range entries {
		items = append(items, map[string]any{
			"fieldPath":     row.FieldPath,
			"previousValue": row.PreviousValue,
			"newValue":      row.NewValue,
			"acceptedBy":    row.AcceptedBy,
			"acceptedAt":    row.AcceptedAt,
			"suggestionId":  row.SuggestionID,
			"commitHash":    row.CommitHash,
		})
	}

	commits, err := s.archive.History(placeID, 50)
	if err != nil {
		log.Printf("archive: history for %s: %v", placeID, err)
		commits = []gitarchive.Commit{}
	}

	return map[string]any{
		"placeId": placeID,
		"items":   items,
		"commits": commits,
	}, nil
}

// Snapshot returns the place document exactly as it was at an archived commit.
func (s *Service) Snapshot(ctx context.Context, placeID, hash string) (map[string]any, error) {
	if _, err := s.store.GetPlace(ctx, placeID); err != nil {
		return nil, err
	}
	doc, err := s.archive.SnapshotByHash(placeID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "snapshot not found", map[string]any{"hash": hash})
	}
	return map[string]any{
		"placeId": placeID,
		"hash":    hash,
		"doc":     doc,
	}, nil
}

func (s *Service) Search(ctx context.Context, text, filterType, placeID string, limit, offset int) (search.Response, error) {
	rtyp := search.ResultType(strings.ToLower(strings.TrimSpace(filterType)))
	switch rtyp {
	case "", search.ResultPlace, search.ResultSuggestion, search.ResultEdit:
	default:
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be place, suggestion, or edit", nil)
	}
	return s.search.Search(search.Query{
		Text:          text,
		FilterType:    rtyp,
		FilterPlaceID: strings.TrimSpace(placeID),
		Limit:         limit,
		Offset:        offset,
	}), nil
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	places, pending, accepted, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"places":             places,
		"pendingSuggestions": pending,
		"acceptedEdits":      accepted,
	}, nil
}

func (s *Service) persistAsync(p *place.Place) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.SavePlace(ctx, p); err != nil {
			log.Printf("persist: save place %s: %v", p.ID, err)
		}
	}()
}

func (s *Service) mirrorPlace(p *place.Place) {
	if s.backup == nil {
		return
	}
	snapshot := *p
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.backup.SavePlace(ctx, snapshot.ID, snapshot); err != nil {
			log.Printf("backup: save place %s: %v", snapshot.ID, err)
		}
	}()
}

func findSuggestion(p *place.Place, path, suggestionID string) (place.Suggestion, bool) {
	for _, sug := range p.Suggestions[path] {
		if sug.ID == suggestionID {
			return sug, true
		}
	}
	return place.Suggestion{}, false
}

func resolutionStatus(resolution place.Resolution) place.Status {
	if resolution == place.ResolutionAccepted {
		return place.StatusAccepted
	}
	return place.StatusRejected
}

func resolvePayload(p *place.Place, entry *place.EditLogEntry, applied bool) map[string]any {
	payload := map[string]any{
		"place":   p,
		"applied": applied,
	}
	if entry != nil {
		payload["edit"] = entry
	}
	return payload
}

func placeSearchRecord(p *place.Place) search.PlaceRecord {
	return search.PlaceRecord{
		ID:      p.ID,
		Name:    docString(p.Doc, "name"),
		Summary: docString(p.Doc, "summary"),
		City:    docString(p.Doc, "city"),
		Country: docString(p.Doc, "country"),
		Tags:    docStrings(p.Doc, "tags"),
	}
}

func docString(doc map[string]any, key string) string {
	value, _ := doc[key].(string)
	return value
}

func docStrings(doc map[string]any, key string) []string {
	switch value := doc[key].(type) {
	case []string:
		return value
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
