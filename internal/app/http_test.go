package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wayfare/api/internal/auth"
	"wayfare/api/internal/place"
	"wayfare/api/internal/store"
)

const testSecret = "test-secret"

func newTestServer(fs *fakeStore, fa *fakeArchive) *HTTPServer {
	svc := newTestService(fs, fa)
	svc.cfg.JWTSecret = testSecret
	return NewHTTPServer(svc, "*")
}

func mintToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:  userID,
		Name: "Avery",
		Role: "editor",
		JTI:  "jti_test",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeArchive{})

	recorder := doRequest(t, server, http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload)
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}
	server := newTestServer(fs, &fakeArchive{})

	recorder := doRequest(t, server, http.MethodGet, "/api/ready", "", nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", payload["status"])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeArchive{})

	recorder := doRequest(t, server, http.MethodGet, "/api/places", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %v", payload["code"])
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeArchive{})

	recorder := doRequest(t, server, http.MethodGet, "/api/places", "not-a-token", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestSessionEndpointWithoutToken(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeArchive{})

	recorder := doRequest(t, server, http.MethodGet, "/api/session", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["authenticated"] != false {
		t.Fatalf("expected authenticated=false, got %v", payload)
	}
}

func TestResolveSuggestionRoundtrip(t *testing.T) {
	p, suggestion := seededPlace(t, "summary", "Best visited at dusk.")

	var logged []place.EditLogEntry
	fs := &fakeStore{
		getPlaceFn: func(context.Context, string) (*place.Place, error) { return p, nil },
		insertEditLogFn: func(_ context.Context, _ string, entry place.EditLogEntry) error {
			logged = append(logged, entry)
			return nil
		},
	}
	server := newTestServer(fs, &fakeArchive{})
	token := mintToken(t, "usr_1")

	recorder := doRequest(t, server, http.MethodPost,
		"/api/places/"+p.ID+"/suggestions/"+suggestion.ID+"/resolve", token,
		map[string]string{"path": "summary", "resolution": "accepted"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["applied"] != true {
		t.Fatalf("expected applied=true, got %v", payload["applied"])
	}
	edit, ok := payload["edit"].(map[string]any)
	if !ok {
		t.Fatalf("expected edit entry in payload, got %v", payload)
	}
	if edit["fieldPath"] != "summary" || edit["newValue"] != "Best visited at dusk." {
		t.Fatalf("unexpected edit entry: %v", edit)
	}
	if len(logged) != 1 {
		t.Fatalf("expected 1 edit log insert, got %d", len(logged))
	}
}

func TestResolveWithBadResolutionIs422(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeArchive{})
	token := mintToken(t, "usr_1")

	recorder := doRequest(t, server, http.MethodPost,
		"/api/places/plc_test/suggestions/sug-1/resolve", token,
		map[string]string{"path": "summary", "resolution": "maybe"})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
}

func TestViewerCannotSuggest(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Quinn", Role: "viewer"}, nil
		},
	}
	server := newTestServer(fs, &fakeArchive{})
	token := mintToken(t, "usr_viewer")

	recorder := doRequest(t, server, http.MethodPost,
		"/api/places/plc_test/suggestions", token,
		map[string]string{"path": "summary", "content": "A quiet spot."})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", payload["code"])
	}
}

func TestContributorCannotResolve(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Marcus", Role: "contributor"}, nil
		},
	}
	server := newTestServer(fs, &fakeArchive{})
	token := mintToken(t, "usr_contrib")

	recorder := doRequest(t, server, http.MethodPost,
		"/api/places/plc_test/suggestions/sug-1/resolve", token,
		map[string]string{"path": "summary", "resolution": "accepted"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestContributorCanSuggest(t *testing.T) {
	p := place.New("plc_test")
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Marcus", Role: "contributor"}, nil
		},
		getPlaceFn: func(context.Context, string) (*place.Place, error) { return p, nil },
	}
	server := newTestServer(fs, &fakeArchive{})
	token := mintToken(t, "usr_contrib")

	recorder := doRequest(t, server, http.MethodPost,
		"/api/places/plc_test/suggestions", token,
		map[string]string{"path": "tags", "content": "quiet, scenic"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["status"] != "pending" {
		t.Fatalf("expected pending suggestion, got %v", payload)
	}
}

func TestHistoryEndpointPassesFilters(t *testing.T) {
	p := place.New("plc_test")
	fs := &fakeStore{
		getPlaceFn: func(context.Context, string) (*place.Place, error) { return p, nil },
		listEditLogFilteredFn: func(_ context.Context, placeID, fieldPath, actor, query string, limit int) ([]place.EditLogEntry, error) {
			if fieldPath != "tags" || actor != "Avery" || limit != 5 {
				t.Fatalf("filters not forwarded: path=%q actor=%q limit=%d", fieldPath, actor, limit)
			}
			return []place.EditLogEntry{{FieldPath: "tags", AcceptedBy: "Avery", CommitHash: "feedc0de"}}, nil
		},
	}
	server := newTestServer(fs, &fakeArchive{})
	token := mintToken(t, "usr_1")

	recorder := doRequest(t, server, http.MethodGet,
		"/api/places/plc_test/history?path=tags&actor=Avery&limit=5", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	items, ok := payload["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected 1 history item, got %v", payload["items"])
	}
}

func TestHistoryRejectsNonNumericLimit(t *testing.T) {
	p := place.New("plc_test")
	fs := &fakeStore{
		getPlaceFn: func(context.Context, string) (*place.Place, error) { return p, nil },
	}
	server := newTestServer(fs, &fakeArchive{})
	token := mintToken(t, "usr_1")

	recorder := doRequest(t, server, http.MethodGet,
		"/api/places/plc_test/history?limit=many", token, nil)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", recorder.Code)
	}
}

func TestGetMissingPlaceIs404(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeArchive{})
	token := mintToken(t, "usr_1")

	recorder := doRequest(t, server, http.MethodGet, "/api/places/plc_missing", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", payload["code"])
	}
}

func TestSnapshotEndpointReplaysArchivedDoc(t *testing.T) {
	p := place.New("plc_test")
	fs := &fakeStore{
		getPlaceFn: func(context.Context, string) (*place.Place, error) { return p, nil },
	}
	fa := &fakeArchive{
		snapshotByHashFn: func(placeID, hash string) (map[string]any, error) {
			if hash != "feedc0de" {
				return nil, errors.New("unknown revision")
			}
			return map[string]any{"name": "Teahouse on the Ridge"}, nil
		},
	}
	server := newTestServer(fs, fa)
	token := mintToken(t, "usr_1")

	recorder := doRequest(t, server, http.MethodGet,
		"/api/places/plc_test/snapshots/feedc0de", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	doc, ok := payload["doc"].(map[string]any)
	if !ok || doc["name"] != "Teahouse on the Ridge" {
		t.Fatalf("unexpected snapshot payload: %v", payload)
	}

	recorder = doRequest(t, server, http.MethodGet,
		"/api/places/plc_test/snapshots/unknown", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown hash, got %d", recorder.Code)
	}
}

func TestDeletePlaceRequiresAdmin(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeArchive{})
	token := mintToken(t, "usr_1")

	recorder := doRequest(t, server, http.MethodDelete, "/api/places/plc_test", token, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for editor delete, got %d", recorder.Code)
	}
}
