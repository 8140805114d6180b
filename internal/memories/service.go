package memories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/memoryshelf/backend/internal/albums"
	"github.com/memoryshelf/backend/internal/media"
	"go.uber.org/zap"
)

var (
	// ErrMemoryNotFound indicates the memory does not exist within the album.
	ErrMemoryNotFound = errors.New("memories: memory not found")
	// ErrMissingImageURL indicates a create or edit without the required image reference; no write occurs.
	ErrMissingImageURL = errors.New("memories: image url is required")
	// ErrMissingTakenAt indicates a create without the required capture date; no write occurs.
	ErrMissingTakenAt = errors.New("memories: capture date is required")

	errMissingStore      = errors.New("store is required")
	errMissingFeed       = errors.New("changefeed is required")
	errMissingIDProvider = errors.New("id provider is required")

	noOpLogger = zap.NewNop()
)

// ServiceError carries an operation-scoped error code for diagnostics.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation-scoped error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "memories.service.new"
	opAdd        = "memories.add"
	opUpdate     = "memories.update"
	opDelete     = "memories.delete"
	opList       = "memories.list"
	opReorder    = "memories.reorder"
	opBackfill   = "memories.backfill"
	opSubscribe  = "memories.subscribe"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Store is the document-store contract for an album's memories collection.
// BulkSetOrder persists all assignments as a single all-or-nothing write; a
// partially applied permutation is never durably observed.
type Store interface {
	Get(ctx context.Context, albumID, memoryID string) (Memory, error)
	Add(ctx context.Context, memory Memory) error
	Update(ctx context.Context, albumID, memoryID string, edits FieldEdits) error
	Delete(ctx context.Context, albumID, memoryID string) error
	List(ctx context.Context, albumID string, sortKey SortKey) ([]Memory, error)
	BulkSetOrder(ctx context.Context, albumID string, assignments []OrderAssignment) error
}

// Feed delivers change notifications for one album's memory list.
type Feed interface {
	Watch(ctx context.Context, key string) (<-chan struct{}, func())
}

// IDProvider issues identifiers for new memories.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies for a memory service.
type ServiceConfig struct {
	Store      Store
	Feed       Feed
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service maintains each album's memory list: field edits, the live ordered
// subscription, order backfill, and atomic reorder commits.
type Service struct {
	store  Store
	feed   Feed
	clock  func() time.Time
	ids    IDProvider
	logger *zap.Logger
}

// NewService constructs a memory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Feed == nil {
		return nil, newServiceError(opServiceNew, "missing_feed", errMissingFeed)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:  cfg.Store,
		feed:   cfg.Feed,
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
	}, nil
}

// NewMemory carries the user-supplied fields for a create.
type NewMemory struct {
	ImageURL string
	Title    string
	Note     string
	TakenAt  string
}

// Add validates input, normalizes the image link, and persists a new memory
// with a coarse placeholder order (current unix milliseconds) so it sorts
// after every densely numbered sibling without renumbering them. Validation
// failures reject before any write.
func (s *Service) Add(ctx context.Context, albumID albums.AlbumID, input NewMemory) (Memory, error) {
	if input.ImageURL == "" {
		return Memory{}, ErrMissingImageURL
	}
	if input.TakenAt == "" {
		return Memory{}, ErrMissingTakenAt
	}

	memoryID, err := s.ids.NewID()
	if err != nil {
		s.logError(opAdd, "id_generation_failed", err, zap.String("album_id", albumID.String()))
		return Memory{}, newServiceError(opAdd, "id_generation_failed", err)
	}

	now := s.clock().UTC().UnixMilli()
	placeholder := now
	memory := Memory{
		MemoryID:        memoryID,
		AlbumID:         albumID.String(),
		ImageURL:        media.DirectImageURL(input.ImageURL),
		Title:           input.Title,
		Note:            input.Note,
		TakenAt:         input.TakenAt,
		Order:           &placeholder,
		CreatedAtMillis: now,
	}
	if err := s.store.Add(ctx, memory); err != nil {
		s.logError(opAdd, "store_add_failed", err, zap.String("album_id", albumID.String()))
		return Memory{}, newServiceError(opAdd, "store_add_failed", err)
	}
	return memory, nil
}

// Update applies field edits to one memory. The image reference cannot be
// edited away to empty; an edited link is normalized before it is stored.
func (s *Service) Update(ctx context.Context, albumID albums.AlbumID, memoryID MemoryID, edits FieldEdits) error {
	if edits.ImageURL != nil {
		if *edits.ImageURL == "" {
			return ErrMissingImageURL
		}
		normalized := media.DirectImageURL(*edits.ImageURL)
		edits.ImageURL = &normalized
	}
	if err := s.store.Update(ctx, albumID.String(), memoryID.String(), edits); err != nil {
		if errors.Is(err, ErrMemoryNotFound) {
			return err
		}
		s.logError(opUpdate, "store_update_failed", err,
			zap.String("album_id", albumID.String()),
			zap.String("memory_id", memoryID.String()))
		return newServiceError(opUpdate, "store_update_failed", err)
	}
	return nil
}

// Delete removes one memory.
func (s *Service) Delete(ctx context.Context, albumID albums.AlbumID, memoryID MemoryID) error {
	if err := s.store.Delete(ctx, albumID.String(), memoryID.String()); err != nil {
		if errors.Is(err, ErrMemoryNotFound) {
			return err
		}
		s.logError(opDelete, "store_delete_failed", err,
			zap.String("album_id", albumID.String()),
			zap.String("memory_id", memoryID.String()))
		return newServiceError(opDelete, "store_delete_failed", err)
	}
	return nil
}

// List reads the album's current snapshot in display order. When the primary
// order-sorted read fails, the same data is retried sorted by capture date.
func (s *Service) List(ctx context.Context, albumID albums.AlbumID) ([]Memory, error) {
	snapshot, _, err := s.listWithFallback(ctx, albumID.String())
	return snapshot, err
}

func (s *Service) listWithFallback(ctx context.Context, albumID string) ([]Memory, SortKey, error) {
	snapshot, err := s.store.List(ctx, albumID, SortByOrder)
	if err == nil {
		return snapshot, SortByOrder, nil
	}
	s.logger.Warn("order-sorted read failed, falling back to capture date",
		zap.String("album_id", albumID), zap.Error(err))

	snapshot, fallbackErr := s.store.List(ctx, albumID, SortByTakenAt)
	if fallbackErr != nil {
		s.logError(opList, "fallback_read_failed", fallbackErr, zap.String("album_id", albumID))
		return nil, SortByTakenAt, newServiceError(opList, "fallback_read_failed", fallbackErr)
	}
	return snapshot, SortByTakenAt, nil
}

// Reorder applies a drag intent to the current snapshot and commits the
// resulting dense 0..N-1 assignment as one atomic bulk write. Entries whose
// stored order already matches are skipped; an empty album performs no
// write. The returned sequence reflects the committed ordering.
func (s *Service) Reorder(ctx context.Context, albumID albums.AlbumID, movedID MemoryID, targetPosition int) ([]Memory, error) {
	snapshot, err := s.store.List(ctx, albumID.String(), SortByOrder)
	if err != nil {
		s.logError(opReorder, "snapshot_read_failed", err, zap.String("album_id", albumID.String()))
		return nil, newServiceError(opReorder, "snapshot_read_failed", err)
	}
	if len(snapshot) == 0 {
		return nil, ErrMemoryNotFound
	}

	sequence, err := ApplyMove(snapshot, movedID, targetPosition)
	if err != nil {
		return nil, err
	}

	assignments := DenseAssignments(sequence)
	if len(assignments) > 0 {
		if err := s.store.BulkSetOrder(ctx, albumID.String(), assignments); err != nil {
			s.logError(opReorder, "bulk_commit_failed", err, zap.String("album_id", albumID.String()))
			return nil, newServiceError(opReorder, "bulk_commit_failed", err)
		}
	}
	return WithAssignments(sequence, assignments), nil
}

// Backfill assigns dense order values across the whole snapshot when any
// entry lacks one, persisting only the entries whose value changes. Running
// it on an already-dense snapshot writes nothing, so concurrent backfills
// converge on the same permutation.
func (s *Service) Backfill(ctx context.Context, albumID albums.AlbumID, snapshot []Memory) (bool, error) {
	if !NeedsBackfill(snapshot) {
		return false, nil
	}
	assignments := DenseAssignments(snapshot)
	if len(assignments) == 0 {
		return false, nil
	}
	if err := s.store.BulkSetOrder(ctx, albumID.String(), assignments); err != nil {
		s.logError(opBackfill, "bulk_commit_failed", err, zap.String("album_id", albumID.String()))
		return false, newServiceError(opBackfill, "bulk_commit_failed", err)
	}
	s.logger.Info("order backfilled",
		zap.String("album_id", albumID.String()),
		zap.Int("assignments", len(assignments)))
	return true, nil
}

// Subscribe delivers full ordered snapshots of the album's memory list: one
// immediately, then one after every observed change. Unordered entries
// trigger a backfill from inside the loop; the resulting write produces the
// next, densely ordered snapshot. Only the most recent snapshot is retained
// when the consumer lags. The channel closes when ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context, albumID albums.AlbumID) (<-chan []Memory, error) {
	initial, sortKey, err := s.listWithFallback(ctx, albumID.String())
	if err != nil {
		return nil, newServiceError(opSubscribe, "initial_read_failed", err)
	}

	ticks, cancel := s.feed.Watch(ctx, albumID.String())
	out := make(chan []Memory, 1)
	go func() {
		defer close(out)
		defer cancel()
		s.deliver(ctx, albumID, out, initial, sortKey)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ticks:
				if !ok {
					return
				}
				snapshot, key, err := s.listWithFallback(ctx, albumID.String())
				if err != nil {
					continue
				}
				s.deliver(ctx, albumID, out, snapshot, key)
			}
		}
	}()
	return out, nil
}

func (s *Service) deliver(ctx context.Context, albumID albums.AlbumID, out chan []Memory, snapshot []Memory, sortKey SortKey) {
	replaceSnapshot(out, snapshot)
	// Backfill only against the primary ordering; a fallback-sorted snapshot
	// is not a valid basis for renumbering.
	if sortKey != SortByOrder {
		return
	}
	if _, err := s.Backfill(ctx, albumID, snapshot); err != nil {
		s.logger.Warn("backfill during subscription failed",
			zap.String("album_id", albumID.String()), zap.Error(err))
	}
}

func replaceSnapshot(out chan []Memory, snapshot []Memory) {
	for {
		select {
		case out <- snapshot:
			return
		default:
			select {
			case <-out:
			default:
			}
		}
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("memories service error", attrs...)
}
