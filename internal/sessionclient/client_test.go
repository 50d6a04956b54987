package sessionclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aamakeev/director-extension/internal/game"
	"github.com/aamakeev/director-extension/internal/snapshot"
)

func snapWith(savedAt int64, tips int) snapshot.Snapshot {
	state := game.NewGameState(savedAt)
	state.TotalSessionTips = tips
	return snapshot.Snapshot{SavedAt: savedAt, GameState: state}
}

func TestLoadNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := New(server.URL, "model42", "")
	_, found, err := c.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("404 reported as found")
	}
}

func TestLoadDecodesState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/model42" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"sessionId": "model42",
			"updatedAt": 100,
			"state":     snapWith(100, 7),
		})
	}))
	defer server.Close()

	c := New(server.URL, "model42", "secret")
	snap, found, err := c.Load(context.Background())
	if err != nil || !found {
		t.Fatalf("load = %v, found %v", err, found)
	}
	if snap.SavedAt != 100 || snap.GameState.TotalSessionTips != 7 {
		t.Fatalf("snap = %+v", snap)
	}
}

func TestSaveAccepted(t *testing.T) {
	var gotBody struct {
		State snapshot.Snapshot `json:"state"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(server.URL, "model42", "")
	newer, err := c.Save(context.Background(), snapWith(100, 5))
	if err != nil {
		t.Fatal(err)
	}
	if newer != nil {
		t.Fatalf("accepted save returned conflict snapshot: %+v", newer)
	}
	if gotBody.State.SavedAt != 100 {
		t.Fatalf("request body savedAt = %d", gotBody.State.SavedAt)
	}
}

func TestSaveConflictReturnsNewer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error":     "a newer snapshot already exists",
			"sessionId": "model42",
			"updatedAt": 200,
			"state":     snapWith(200, 9),
		})
	}))
	defer server.Close()

	c := New(server.URL, "model42", "")
	newer, err := c.Save(context.Background(), snapWith(100, 5))
	if err != nil {
		t.Fatal(err)
	}
	if newer == nil || newer.SavedAt != 200 || newer.GameState.TotalSessionTips != 9 {
		t.Fatalf("conflict snapshot = %+v", newer)
	}
}

func TestSaveConflictWithoutBodyRefetches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"stale"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"state": snapWith(300, 11)})
	}))
	defer server.Close()

	c := New(server.URL, "model42", "")
	newer, err := c.Save(context.Background(), snapWith(100, 5))
	if err != nil {
		t.Fatal(err)
	}
	if newer == nil || newer.SavedAt != 300 {
		t.Fatalf("refetched snapshot = %+v", newer)
	}
}

func TestDelete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := New(server.URL, "model42", "").Delete(context.Background()); err != nil {
		t.Fatal(err)
	}
}
