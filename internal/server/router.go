package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/memoryshelf/backend/internal/albums"
	"github.com/memoryshelf/backend/internal/auth"
	"github.com/memoryshelf/backend/internal/media"
	"github.com/memoryshelf/backend/internal/memories"
	"github.com/memoryshelf/backend/internal/viewer"
)

const sessionContextKey = "memoryshelf_session"

var (
	errMissingGoogleVerifier = errors.New("google verifier dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingIdentities     = errors.New("identity resolver dependency required")
	errMissingAlbumService   = errors.New("album service dependency required")
	errMissingMemoryService  = errors.New("memory service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// GoogleVerifier validates Google ID tokens.
type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

// SessionTokenManager issues and validates backend session tokens.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, principal auth.Principal) (string, int64, error)
	ValidateToken(token string) (auth.Principal, error)
}

// IdentityResolver maps verified Google claims to canonical principals.
type IdentityResolver interface {
	Resolve(claims auth.GoogleClaims) (auth.Principal, error)
}

// Dependencies bundles everything the HTTP layer needs.
type Dependencies struct {
	GoogleVerifier GoogleVerifier
	TokenManager   SessionTokenManager
	Identities     IdentityResolver
	Albums         *albums.Service
	Memories       *memories.Service
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the full route table.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoogleVerifier == nil {
		return nil, errMissingGoogleVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Identities == nil {
		return nil, errMissingIdentities
	}
	if deps.Albums == nil {
		return nil, errMissingAlbumService
	}
	if deps.Memories == nil {
		return nil, errMissingMemoryService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:   deps.GoogleVerifier,
		tokens:     deps.TokenManager,
		identities: deps.Identities,
		albums:     deps.Albums,
		memories:   deps.Memories,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/auth/google", handler.handleGoogleAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleMe)

	protected.GET("/albums", handler.handleListAlbums)
	protected.POST("/albums", handler.handleCreateAlbum)
	protected.GET("/albums/stream", handler.handleAlbumStream)
	protected.GET("/albums/:albumID", handler.handleGetAlbum)
	protected.DELETE("/albums/:albumID", handler.handleDeleteAlbum)

	protected.GET("/albums/:albumID/memories", handler.handleListMemories)
	protected.POST("/albums/:albumID/memories", handler.handleCreateMemory)
	protected.GET("/albums/:albumID/memories/stream", handler.handleMemoryStream)
	protected.POST("/albums/:albumID/memories/reorder", handler.handleReorderMemories)
	protected.PATCH("/albums/:albumID/memories/:memoryID", handler.handleUpdateMemory)
	protected.DELETE("/albums/:albumID/memories/:memoryID", handler.handleDeleteMemory)

	protected.GET("/albums/:albumID/viewer", handler.handleViewer)

	return router, nil
}

type httpHandler struct {
	verifier   GoogleVerifier
	tokens     SessionTokenManager
	identities IdentityResolver
	albums     *albums.Service
	memories   *memories.Service
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type userPayload struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type authResponsePayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		trackAuthAttempt("failure")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	principal, err := h.identities.Resolve(claims)
	if err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		trackAuthAttempt("failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), principal)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		trackAuthAttempt("failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	trackAuthAttempt("success")
	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User: userPayload{
			ID:          principal.UserID,
			Email:       principal.Email,
			DisplayName: principal.DisplayName,
			AvatarURL:   principal.AvatarURL,
		},
	})
}

// authorizeRequest turns a bearer token into a signed-in session on the
// request context. Anything short of a valid token ends the request here,
// so downstream handlers never observe an unknown session state.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	principal, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	session, err := auth.SignedIn(principal)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionContextKey, session)
	c.Next()
}

func (h *httpHandler) currentPrincipal(c *gin.Context) (auth.Principal, bool) {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return auth.Principal{}, false
	}
	session, ok := value.(auth.Session)
	if !ok {
		return auth.Principal{}, false
	}
	return session.Principal()
}

func (h *httpHandler) requireOwner(c *gin.Context) (albums.OwnerID, bool) {
	principal, ok := h.currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	ownerID, err := albums.NewOwnerID(principal.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return ownerID, true
}

// requireAlbum resolves the albumID path parameter scoped to the caller.
// Albums owned by someone else surface as not found.
func (h *httpHandler) requireAlbum(c *gin.Context) (albums.OwnerID, albums.AlbumID, bool) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return "", "", false
	}
	albumID, err := albums.NewAlbumID(c.Param("albumID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", "", false
	}
	if _, err := h.albums.Get(c.Request.Context(), ownerID, albumID); err != nil {
		h.respondAlbumError(c, err)
		return "", "", false
	}
	return ownerID, albumID, true
}

func (h *httpHandler) respondAlbumError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, albums.ErrAlbumNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, albums.ErrMissingTitle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "title_required"})
	default:
		h.logger.Error("album operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "album_operation_failed"})
	}
}

func (h *httpHandler) respondMemoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, memories.ErrMemoryNotFound), errors.Is(err, memories.ErrUnknownMemory):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, memories.ErrMissingImageURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": "image_url_required"})
	case errors.Is(err, memories.ErrMissingTakenAt):
		c.JSON(http.StatusBadRequest, gin.H{"error": "taken_at_required"})
	default:
		h.logger.Error("memory operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "memory_operation_failed"})
	}
}

func (h *httpHandler) handleMe(c *gin.Context) {
	principal, ok := h.currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, userPayload{
		ID:          principal.UserID,
		Email:       principal.Email,
		DisplayName: principal.DisplayName,
		AvatarURL:   principal.AvatarURL,
	})
}

type createAlbumPayload struct {
	Title    string `json:"title"`
	CoverURL string `json:"cover_url"`
}

func (h *httpHandler) handleCreateAlbum(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	var request createAlbumPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	album, err := h.albums.Create(c.Request.Context(), ownerID, request.Title, request.CoverURL)
	if err != nil {
		h.respondAlbumError(c, err)
		return
	}
	c.JSON(http.StatusCreated, album)
}

func (h *httpHandler) handleListAlbums(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	listed, err := h.albums.List(c.Request.Context(), ownerID)
	if err != nil {
		h.respondAlbumError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"albums": listed})
}

func (h *httpHandler) handleGetAlbum(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	albumID, err := albums.NewAlbumID(c.Param("albumID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	album, err := h.albums.Get(c.Request.Context(), ownerID, albumID)
	if err != nil {
		h.respondAlbumError(c, err)
		return
	}
	c.JSON(http.StatusOK, album)
}

func (h *httpHandler) handleDeleteAlbum(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	albumID, err := albums.NewAlbumID(c.Param("albumID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.albums.Delete(c.Request.Context(), ownerID, albumID); err != nil {
		h.respondAlbumError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": albumID.String()})
}

func (h *httpHandler) handleAlbumStream(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	snapshots, err := h.albums.Subscribe(c.Request.Context(), ownerID)
	if err != nil {
		h.respondAlbumError(c, err)
		return
	}
	streamSnapshots(c, func(snapshot []albums.Album) gin.H {
		return gin.H{"albums": snapshot}
	}, snapshots)
}

type createMemoryPayload struct {
	ImageURL string `json:"image_url"`
	Title    string `json:"title"`
	Note     string `json:"note"`
	TakenAt  string `json:"taken_at"`
}

func (h *httpHandler) handleCreateMemory(c *gin.Context) {
	_, albumID, ok := h.requireAlbum(c)
	if !ok {
		return
	}
	var request createMemoryPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	memory, err := h.memories.Add(c.Request.Context(), albumID, memories.NewMemory{
		ImageURL: request.ImageURL,
		Title:    request.Title,
		Note:     request.Note,
		TakenAt:  request.TakenAt,
	})
	if err != nil {
		h.respondMemoryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, memory)
}

func (h *httpHandler) handleListMemories(c *gin.Context) {
	_, albumID, ok := h.requireAlbum(c)
	if !ok {
		return
	}
	listed, err := h.memories.List(c.Request.Context(), albumID)
	if err != nil {
		h.respondMemoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": listed})
}

type updateMemoryPayload struct {
	Title    *string `json:"title"`
	Note     *string `json:"note"`
	ImageURL *string `json:"image_url"`
	TakenAt  *string `json:"taken_at"`
}

func (h *httpHandler) handleUpdateMemory(c *gin.Context) {
	_, albumID, ok := h.requireAlbum(c)
	if !ok {
		return
	}
	memoryID, err := memories.NewMemoryID(c.Param("memoryID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	var request updateMemoryPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	edits := memories.FieldEdits{
		Title:    request.Title,
		Note:     request.Note,
		ImageURL: request.ImageURL,
		TakenAt:  request.TakenAt,
	}
	if err := h.memories.Update(c.Request.Context(), albumID, memoryID, edits); err != nil {
		h.respondMemoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": memoryID.String()})
}

func (h *httpHandler) handleDeleteMemory(c *gin.Context) {
	_, albumID, ok := h.requireAlbum(c)
	if !ok {
		return
	}
	memoryID, err := memories.NewMemoryID(c.Param("memoryID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.memories.Delete(c.Request.Context(), albumID, memoryID); err != nil {
		h.respondMemoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": memoryID.String()})
}

type reorderPayload struct {
	MovedID        string `json:"moved_id"`
	TargetPosition int    `json:"target_position"`
}

func (h *httpHandler) handleReorderMemories(c *gin.Context) {
	_, albumID, ok := h.requireAlbum(c)
	if !ok {
		return
	}
	var request reorderPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	movedID, err := memories.NewMemoryID(request.MovedID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	sequence, err := h.memories.Reorder(c.Request.Context(), albumID, movedID, request.TargetPosition)
	if err != nil {
		trackReorderCommit("failure")
		h.respondMemoryError(c, err)
		return
	}
	trackReorderCommit("success")
	c.JSON(http.StatusOK, gin.H{"memories": sequence})
}

func (h *httpHandler) handleMemoryStream(c *gin.Context) {
	_, albumID, ok := h.requireAlbum(c)
	if !ok {
		return
	}
	snapshots, err := h.memories.Subscribe(c.Request.Context(), albumID)
	if err != nil {
		h.respondMemoryError(c, err)
		return
	}
	streamSnapshots(c, func(snapshot []memories.Memory) gin.H {
		return gin.H{"memories": snapshot}
	}, snapshots)
}

type viewerEntryPayload struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"`
	Title    string `json:"title,omitempty"`
	Note     string `json:"note,omitempty"`
	TakenAt  string `json:"taken_at,omitempty"`
	RetryURL string `json:"retry_url,omitempty"`
}

type viewerResponsePayload struct {
	Index       int                 `json:"index"`
	Count       int                 `json:"count"`
	Current     *viewerEntryPayload `json:"current,omitempty"`
	PrefetchURL string              `json:"prefetch_url,omitempty"`
}

// handleViewer serves one slideshow position. The optional i query parameter
// is a start hint; out-of-range hints clamp instead of failing.
func (h *httpHandler) handleViewer(c *gin.Context) {
	_, albumID, ok := h.requireAlbum(c)
	if !ok {
		return
	}
	listed, err := h.memories.List(c.Request.Context(), albumID)
	if err != nil {
		h.respondMemoryError(c, err)
		return
	}

	hint := 0
	if raw := c.Query("i"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		hint = parsed
	}

	navigator := viewer.New(len(listed), hint)
	response := viewerResponsePayload{Count: navigator.Len()}
	index, ok := navigator.Current()
	if !ok {
		c.JSON(http.StatusOK, response)
		return
	}

	current := listed[index]
	response.Index = index
	response.Current = &viewerEntryPayload{
		ID:       current.MemoryID,
		ImageURL: media.DirectImageURL(current.ImageURL),
		Title:    current.Title,
		Note:     current.Note,
		TakenAt:  current.TakenAt,
		RetryURL: media.RetryImageURL(current.ImageURL),
	}
	if peek, ok := navigator.Peek(); ok {
		response.PrefetchURL = media.DirectImageURL(listed[peek].ImageURL)
	}
	c.JSON(http.StatusOK, response)
}

// streamSnapshots writes each snapshot as a server-sent event until the
// subscription channel closes or the client disconnects.
func streamSnapshots[T any](c *gin.Context, wrap func(T) gin.H, snapshots <-chan T) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		snapshot, ok := <-snapshots
		if !ok {
			return false
		}
		c.SSEvent("snapshot", wrap(snapshot))
		return true
	})
}
