package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/memoryshelf/backend/internal/albums"
	"github.com/memoryshelf/backend/internal/auth"
	"github.com/memoryshelf/backend/internal/memories"
	"github.com/memoryshelf/backend/internal/storage"
	"github.com/memoryshelf/backend/internal/users"
)

type fakeVerifier struct {
	claims map[string]auth.GoogleClaims
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (auth.GoogleClaims, error) {
	claims, ok := f.claims[token]
	if !ok {
		return auth.GoogleClaims{}, errors.New("unknown token")
	}
	return claims, nil
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "memoryshelf.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	feed := storage.NewChangefeed()

	albumService, err := albums.NewService(albums.ServiceConfig{
		Store:      storage.NewGormAlbumStore(db, feed),
		Feed:       feed,
		IDProvider: storage.UUIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct album service: %v", err)
	}
	memoryService, err := memories.NewService(memories.ServiceConfig{
		Store:      storage.NewGormMemoryStore(db, feed),
		Feed:       feed,
		IDProvider: storage.UUIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct memory service: %v", err)
	}
	identityService, err := users.NewService(users.ServiceConfig{
		Store: storage.NewGormIdentityStore(db),
	})
	if err != nil {
		t.Fatalf("failed to construct identity service: %v", err)
	}

	verifier := &fakeVerifier{claims: map[string]auth.GoogleClaims{
		"alice-token": {Subject: "alice", Email: "alice@example.com", DisplayName: "Alice"},
		"bob-token":   {Subject: "bob", Email: "bob@example.com", DisplayName: "Bob"},
	}}
	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "memoryshelf-test",
		Audience:      "memoryshelf-test",
		TokenTTL:      time.Hour,
	})

	handler, err := NewHTTPHandler(Dependencies{
		GoogleVerifier: verifier,
		TokenManager:   issuer,
		Identities:     identityService,
		Albums:         albumService,
		Memories:       memoryService,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func signIn(t *testing.T, handler http.Handler, googleToken string) string {
	t.Helper()
	response := doJSON(t, handler, http.MethodPost, "/auth/google", "", map[string]string{"id_token": googleToken})
	if response.Code != http.StatusOK {
		t.Fatalf("sign-in failed with status %d: %s", response.Code, response.Body.String())
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode sign-in response: %v", err)
	}
	if payload.AccessToken == "" {
		t.Fatalf("expected an access token")
	}
	return payload.AccessToken
}

func createAlbum(t *testing.T, handler http.Handler, token, title string) string {
	t.Helper()
	response := doJSON(t, handler, http.MethodPost, "/albums", token, map[string]string{"title": title})
	if response.Code != http.StatusCreated {
		t.Fatalf("album create failed with status %d: %s", response.Code, response.Body.String())
	}
	var album struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &album); err != nil {
		t.Fatalf("failed to decode album: %v", err)
	}
	return album.ID
}

func createMemory(t *testing.T, handler http.Handler, token, albumID, imageURL, takenAt string) string {
	t.Helper()
	response := doJSON(t, handler, http.MethodPost, "/albums/"+albumID+"/memories", token, map[string]string{
		"image_url": imageURL,
		"taken_at":  takenAt,
	})
	if response.Code != http.StatusCreated {
		t.Fatalf("memory create failed with status %d: %s", response.Code, response.Body.String())
	}
	var memory struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &memory); err != nil {
		t.Fatalf("failed to decode memory: %v", err)
	}
	return memory.ID
}

func listMemoryIDs(t *testing.T, handler http.Handler, token, albumID string) []string {
	t.Helper()
	response := doJSON(t, handler, http.MethodGet, "/albums/"+albumID+"/memories", token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("memory list failed with status %d: %s", response.Code, response.Body.String())
	}
	var payload struct {
		Memories []struct {
			ID string `json:"id"`
		} `json:"memories"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode memory list: %v", err)
	}
	ids := make([]string, 0, len(payload.Memories))
	for _, memory := range payload.Memories {
		ids = append(ids, memory.ID)
	}
	return ids
}

func TestAuthGoogleIssuesSessionToken(t *testing.T) {
	handler := newTestHandler(t)

	response := doJSON(t, handler, http.MethodPost, "/auth/google", "", map[string]string{"id_token": "alice-token"})
	if response.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", response.Code, response.Body.String())
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		User        struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.TokenType != "Bearer" || payload.AccessToken == "" {
		t.Fatalf("unexpected token payload: %#v", payload)
	}
	if payload.User.ID != "alice" || payload.User.Email != "alice@example.com" {
		t.Fatalf("unexpected user payload: %#v", payload.User)
	}
}

func TestAuthGoogleRejectsUnknownToken(t *testing.T) {
	handler := newTestHandler(t)

	response := doJSON(t, handler, http.MethodPost, "/auth/google", "", map[string]string{"id_token": "forged"})
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", response.Code)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	handler := newTestHandler(t)

	response := doJSON(t, handler, http.MethodGet, "/albums", "", nil)
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", response.Code)
	}

	response = doJSON(t, handler, http.MethodGet, "/albums", "not-a-jwt", nil)
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a malformed token, got %d", response.Code)
	}
}

func TestAlbumLifecycle(t *testing.T) {
	handler := newTestHandler(t)
	token := signIn(t, handler, "alice-token")

	albumID := createAlbum(t, handler, token, "Summer 2024")

	response := doJSON(t, handler, http.MethodGet, "/albums/"+albumID, token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("unexpected get status %d", response.Code)
	}

	response = doJSON(t, handler, http.MethodGet, "/albums", token, nil)
	if response.Code != http.StatusOK || !strings.Contains(response.Body.String(), "Summer 2024") {
		t.Fatalf("expected the album in the list, got %d: %s", response.Code, response.Body.String())
	}

	response = doJSON(t, handler, http.MethodDelete, "/albums/"+albumID, token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("unexpected delete status %d", response.Code)
	}
	response = doJSON(t, handler, http.MethodGet, "/albums/"+albumID, token, nil)
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", response.Code)
	}
}

func TestAlbumCreateRequiresTitle(t *testing.T) {
	handler := newTestHandler(t)
	token := signIn(t, handler, "alice-token")

	response := doJSON(t, handler, http.MethodPost, "/albums", token, map[string]string{"cover_url": "https://example.com/cover.jpg"})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing title, got %d", response.Code)
	}
}

func TestAlbumsAreScopedToTheirOwner(t *testing.T) {
	handler := newTestHandler(t)
	aliceToken := signIn(t, handler, "alice-token")
	bobToken := signIn(t, handler, "bob-token")

	albumID := createAlbum(t, handler, aliceToken, "Private")

	response := doJSON(t, handler, http.MethodGet, "/albums/"+albumID, bobToken, nil)
	if response.Code != http.StatusNotFound {
		t.Fatalf("another user's album must read as not found, got %d", response.Code)
	}
	response = doJSON(t, handler, http.MethodGet, "/albums/"+albumID+"/memories", bobToken, nil)
	if response.Code != http.StatusNotFound {
		t.Fatalf("another user's memories must read as not found, got %d", response.Code)
	}
	response = doJSON(t, handler, http.MethodGet, "/albums", bobToken, nil)
	if strings.Contains(response.Body.String(), albumID) {
		t.Fatalf("another user's album must not appear in the list")
	}
}

func TestMemoryCreateValidatesRequiredFields(t *testing.T) {
	handler := newTestHandler(t)
	token := signIn(t, handler, "alice-token")
	albumID := createAlbum(t, handler, token, "Summer")

	response := doJSON(t, handler, http.MethodPost, "/albums/"+albumID+"/memories", token, map[string]string{
		"taken_at": "2024-06-01",
	})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing image url, got %d", response.Code)
	}

	response = doJSON(t, handler, http.MethodPost, "/albums/"+albumID+"/memories", token, map[string]string{
		"image_url": "https://example.com/photo.jpg",
	})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing capture date, got %d", response.Code)
	}

	if ids := listMemoryIDs(t, handler, token, albumID); len(ids) != 0 {
		t.Fatalf("rejected creates must not persist anything, got %d entries", len(ids))
	}
}

func TestReorderCommitsPermutation(t *testing.T) {
	handler := newTestHandler(t)
	token := signIn(t, handler, "alice-token")
	albumID := createAlbum(t, handler, token, "Summer")

	first := createMemory(t, handler, token, albumID, "https://example.com/a.jpg", "2024-06-01")
	second := createMemory(t, handler, token, albumID, "https://example.com/b.jpg", "2024-06-02")
	third := createMemory(t, handler, token, albumID, "https://example.com/c.jpg", "2024-06-03")

	response := doJSON(t, handler, http.MethodPost, "/albums/"+albumID+"/memories/reorder", token, map[string]any{
		"moved_id":        third,
		"target_position": 0,
	})
	if response.Code != http.StatusOK {
		t.Fatalf("reorder failed with status %d: %s", response.Code, response.Body.String())
	}

	ids := listMemoryIDs(t, handler, token, albumID)
	if len(ids) != 3 || ids[0] != third || ids[1] != first || ids[2] != second {
		t.Fatalf("unexpected order after reorder: %v", ids)
	}
}

func TestReorderUnknownMemoryReturnsNotFound(t *testing.T) {
	handler := newTestHandler(t)
	token := signIn(t, handler, "alice-token")
	albumID := createAlbum(t, handler, token, "Summer")
	createMemory(t, handler, token, albumID, "https://example.com/a.jpg", "2024-06-01")

	response := doJSON(t, handler, http.MethodPost, "/albums/"+albumID+"/memories/reorder", token, map[string]any{
		"moved_id":        "missing",
		"target_position": 0,
	})
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown memory, got %d", response.Code)
	}
}

func TestMemoryUpdateAndDelete(t *testing.T) {
	handler := newTestHandler(t)
	token := signIn(t, handler, "alice-token")
	albumID := createAlbum(t, handler, token, "Summer")
	memoryID := createMemory(t, handler, token, albumID, "https://example.com/a.jpg", "2024-06-01")

	response := doJSON(t, handler, http.MethodPatch, "/albums/"+albumID+"/memories/"+memoryID, token, map[string]string{
		"title": "Beach day",
	})
	if response.Code != http.StatusOK {
		t.Fatalf("update failed with status %d: %s", response.Code, response.Body.String())
	}

	response = doJSON(t, handler, http.MethodPatch, "/albums/"+albumID+"/memories/"+memoryID, token, map[string]string{
		"image_url": "",
	})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when erasing the image url, got %d", response.Code)
	}

	response = doJSON(t, handler, http.MethodDelete, "/albums/"+albumID+"/memories/"+memoryID, token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("delete failed with status %d", response.Code)
	}
	if ids := listMemoryIDs(t, handler, token, albumID); len(ids) != 0 {
		t.Fatalf("expected an empty album after delete, got %v", ids)
	}
}

func TestViewerClampsStartHint(t *testing.T) {
	handler := newTestHandler(t)
	token := signIn(t, handler, "alice-token")
	albumID := createAlbum(t, handler, token, "Summer")
	createMemory(t, handler, token, albumID, "https://example.com/a.jpg", "2024-06-01")
	createMemory(t, handler, token, albumID, "https://drive.google.com/file/d/abc123/view", "2024-06-02")

	response := doJSON(t, handler, http.MethodGet, "/albums/"+albumID+"/viewer?i=99", token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("viewer failed with status %d: %s", response.Code, response.Body.String())
	}
	var payload struct {
		Index   int `json:"index"`
		Count   int `json:"count"`
		Current *struct {
			ImageURL string `json:"image_url"`
		} `json:"current"`
		PrefetchURL string `json:"prefetch_url"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode viewer payload: %v", err)
	}
	if payload.Count != 2 || payload.Index != 1 {
		t.Fatalf("expected the hint to clamp to the last entry, got %#v", payload)
	}
	if payload.Current == nil || payload.Current.ImageURL != "https://lh3.googleusercontent.com/d/abc123=w1600" {
		t.Fatalf("expected a direct-form image link, got %#v", payload.Current)
	}
	if payload.PrefetchURL != "" {
		t.Fatalf("last entry has nothing to prefetch, got %q", payload.PrefetchURL)
	}
}

func TestViewerReportsEmptyAlbum(t *testing.T) {
	handler := newTestHandler(t)
	token := signIn(t, handler, "alice-token")
	albumID := createAlbum(t, handler, token, "Empty")

	response := doJSON(t, handler, http.MethodGet, "/albums/"+albumID+"/viewer", token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("viewer failed with status %d", response.Code)
	}
	var payload struct {
		Count   int             `json:"count"`
		Current json.RawMessage `json:"current"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode viewer payload: %v", err)
	}
	if payload.Count != 0 || len(payload.Current) != 0 {
		t.Fatalf("expected an empty viewer payload, got %s", response.Body.String())
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	handler := newTestHandler(t)

	response := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("unexpected health status %d", response.Code)
	}

	response = doJSON(t, handler, http.MethodGet, "/metrics", "", nil)
	if response.Code != http.StatusOK || !strings.Contains(response.Body.String(), "memoryshelf_http_requests_total") {
		t.Fatalf("expected exported metrics, got %d", response.Code)
	}
}

func TestCORSPreflightAllowsBrowserClients(t *testing.T) {
	handler := newTestHandler(t)

	request := httptest.NewRequest(http.MethodOptions, "/albums", nil)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent && recorder.Code != http.StatusOK {
		t.Fatalf("unexpected preflight status %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected a wildcard allow-origin header")
	}
}

func TestMemoryStreamDeliversInitialSnapshot(t *testing.T) {
	handler := newTestHandler(t)
	token := signIn(t, handler, "alice-token")
	albumID := createAlbum(t, handler, token, "Summer")
	memoryID := createMemory(t, handler, token, albumID, "https://example.com/a.jpg", "2024-06-01")

	server := httptest.NewServer(handler)
	defer server.Close()

	request, err := http.NewRequest(http.MethodGet, server.URL+"/albums/"+albumID+"/memories/stream", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status %d", response.StatusCode)
	}
	if !strings.HasPrefix(response.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %q", response.Header.Get("Content-Type"))
	}

	scanner := bufio.NewScanner(response.Body)
	deadline := time.Now().Add(5 * time.Second)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") && strings.Contains(line, memoryID) {
			return
		}
		if time.Now().After(deadline) {
			break
		}
	}
	t.Fatalf("expected the initial snapshot to include memory %s", memoryID)
}
