package sessionapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aamakeev/director-extension/internal/game"
	"github.com/aamakeev/director-extension/internal/sessionstore"
	"github.com/aamakeev/director-extension/internal/tipmenu"
)

type fakeMenus struct {
	menu *tipmenu.Menu
	err  error
}

func (f *fakeMenus) Fetch(ctx context.Context, username, hostHint string) (*tipmenu.Menu, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.menu, nil
}

func newTestServer(t *testing.T, apiKey string) http.Handler {
	t.Helper()
	return New(sessionstore.NewMemory(), &fakeMenus{menu: &tipmenu.Menu{Origin: "https://live.example.com"}}, apiKey).Handler()
}

func putBody(savedAt int64, tips int) string {
	body, _ := json.Marshal(map[string]any{
		"state": map[string]any{
			"savedAt":   savedAt,
			"gameState": map[string]any{"totalSessionTips": tips},
		},
	})
	return string(body)
}

func doRequest(handler http.Handler, method, path, body, apiKey string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPutGetRoundTrip(t *testing.T) {
	handler := newTestServer(t, "")

	rec := doRequest(handler, http.MethodPut, "/sessions/model42", putBody(100, 5), "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("put = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(handler, http.MethodGet, "/sessions/model42", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}

	var body struct {
		SessionID string `json:"sessionId"`
		UpdatedAt int64  `json:"updatedAt"`
		State     struct {
			SavedAt int64 `json:"savedAt"`
		} `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.SessionID != "model42" || body.UpdatedAt != 100 || body.State.SavedAt != 100 {
		t.Fatalf("body = %+v", body)
	}
}

func TestPutConflictReturnsNewerState(t *testing.T) {
	handler := newTestServer(t, "")

	doRequest(handler, http.MethodPut, "/sessions/model42", putBody(100, 5), "")
	rec := doRequest(handler, http.MethodPut, "/sessions/model42", putBody(50, 1), "")

	if rec.Code != http.StatusConflict {
		t.Fatalf("stale put = %d, want 409", rec.Code)
	}

	var body struct {
		Error     string `json:"error"`
		SessionID string `json:"sessionId"`
		UpdatedAt int64  `json:"updatedAt"`
		State     struct {
			GameState struct {
				TotalSessionTips int `json:"totalSessionTips"`
			} `json:"gameState"`
		} `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error == "" || body.UpdatedAt != 100 {
		t.Fatalf("conflict body = %+v", body)
	}
	if body.State.GameState.TotalSessionTips != 5 {
		t.Fatalf("conflict body carries wrong state: %+v", body)
	}
}

func TestPutValidation(t *testing.T) {
	handler := newTestServer(t, "")

	if rec := doRequest(handler, http.MethodPut, "/sessions/model42", "{not json", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", rec.Code)
	}
	if rec := doRequest(handler, http.MethodPut, "/sessions/model42", `{"state":{}}`, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing savedAt = %d, want 400", rec.Code)
	}
	if rec := doRequest(handler, http.MethodPut, "/sessions/bad%20id", putBody(100, 5), ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad session id = %d, want 400", rec.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	handler := newTestServer(t, "")

	doRequest(handler, http.MethodPut, "/sessions/model42", putBody(100, 5), "")
	if rec := doRequest(handler, http.MethodDelete, "/sessions/model42", "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := doRequest(handler, http.MethodGet, "/sessions/model42", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", rec.Code)
	}
}

func TestAPIKeyGuardsSessions(t *testing.T) {
	handler := newTestServer(t, "secret")

	if rec := doRequest(handler, http.MethodGet, "/sessions/model42", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key = %d, want 401", rec.Code)
	}
	if rec := doRequest(handler, http.MethodGet, "/sessions/model42", "", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key = %d, want 401", rec.Code)
	}
	if rec := doRequest(handler, http.MethodGet, "/sessions/model42", "", "secret"); rec.Code != http.StatusNotFound {
		t.Fatalf("right key = %d, want 404 for missing session", rec.Code)
	}

	// Health stays public.
	if rec := doRequest(handler, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
}

func TestHealthReportsStorage(t *testing.T) {
	handler := newTestServer(t, "")

	rec := doRequest(handler, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}

	var body struct {
		OK           bool   `json:"ok"`
		Storage      string `json:"storage"`
		IsAvailable  bool   `json:"isAvailable"`
		IsPersistent bool   `json:"isPersistent"`
		Now          int64  `json:"now"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.OK || body.Storage != "memory" || !body.IsAvailable || body.IsPersistent || body.Now <= 0 {
		t.Fatalf("health body = %+v", body)
	}
}

func TestDisabledStorageAnswers503(t *testing.T) {
	handler := New(sessionstore.NewDisabled(), nil, "").Handler()

	rec := doRequest(handler, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health = %d, want 503", rec.Code)
	}

	var body struct {
		OK           bool   `json:"ok"`
		Storage      string `json:"storage"`
		IsAvailable  bool   `json:"isAvailable"`
		IsPersistent bool   `json:"isPersistent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.OK || body.Storage != "disabled" || body.IsAvailable || body.IsPersistent {
		t.Fatalf("health body = %+v", body)
	}

	if rec := doRequest(handler, http.MethodGet, "/sessions/model42", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("get = %d, want 503", rec.Code)
	}
	if rec := doRequest(handler, http.MethodPut, "/sessions/model42", putBody(100, 5), ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("put = %d, want 503", rec.Code)
	}
	if rec := doRequest(handler, http.MethodDelete, "/sessions/model42", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("delete = %d, want 503", rec.Code)
	}
}

func TestTipMenuEndpoint(t *testing.T) {
	menus := &fakeMenus{menu: &tipmenu.Menu{
		Items:  []game.MenuPayloadItem{{Title: "Dance", Price: float64(40)}},
		Origin: "https://live.example.com",
	}}
	handler := New(sessionstore.NewMemory(), menus, "").Handler()

	rec := doRequest(handler, http.MethodGet, "/tip-menu?username=model42", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("tip-menu = %d", rec.Code)
	}

	var body tipmenu.Menu
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 1 || body.Origin == "" {
		t.Fatalf("menu body = %+v", body)
	}

	menus.err = tipmenu.ErrBadUsername
	if rec := doRequest(handler, http.MethodGet, "/tip-menu?username=!", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad username = %d, want 400", rec.Code)
	}

	menus.err = tipmenu.ErrUpstream
	if rec := doRequest(handler, http.MethodGet, "/tip-menu?username=model42", "", ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("upstream failure = %d, want 502", rec.Code)
	}
}
