package albums

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/memoryshelf/backend/internal/media"
	"go.uber.org/zap"
)

var (
	// ErrAlbumNotFound indicates the album does not exist or is not visible to the caller.
	ErrAlbumNotFound = errors.New("albums: album not found")
	// ErrMissingTitle indicates an album create attempt without a title; no write occurs.
	ErrMissingTitle = errors.New("albums: title is required")

	errMissingStore      = errors.New("albums: store is required")
	errMissingFeed       = errors.New("albums: changefeed is required")
	errMissingIDProvider = errors.New("albums: id provider is required")
)

// Store is the document-store contract for the albums collection. Deleting
// an album removes its memories in the same atomic operation.
type Store interface {
	Get(ctx context.Context, albumID string) (Album, error)
	Add(ctx context.Context, album Album) error
	Delete(ctx context.Context, albumID string) error
	ListByOwner(ctx context.Context, ownerID string) ([]Album, error)
}

// Feed delivers change notifications for an owner's album list. The stream
// carries no payload; consumers re-read the latest snapshot on each tick.
type Feed interface {
	Watch(ctx context.Context, key string) (<-chan struct{}, func())
}

// IDProvider issues identifiers for new albums.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies for an album service.
type ServiceConfig struct {
	Store      Store
	Feed       Feed
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages the albums owned by each user and exposes a live
// subscription to the owner's album list.
type Service struct {
	store  Store
	feed   Feed
	clock  func() time.Time
	ids    IDProvider
	logger *zap.Logger
}

// NewService constructs an album service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Feed == nil {
		return nil, errMissingFeed
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  cfg.Store,
		feed:   cfg.Feed,
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
	}, nil
}

// Create validates input, normalizes the cover link, and persists a new
// album. Validation failures reject before any write is attempted.
func (s *Service) Create(ctx context.Context, ownerID OwnerID, title, coverURL string) (Album, error) {
	if title == "" {
		return Album{}, ErrMissingTitle
	}

	albumID, err := s.ids.NewID()
	if err != nil {
		return Album{}, fmt.Errorf("albums: id generation failed: %w", err)
	}

	album := Album{
		AlbumID:         albumID,
		OwnerID:         ownerID.String(),
		Title:           title,
		CoverURL:        media.DirectImageURL(coverURL),
		CreatedAtMillis: s.clock().UTC().UnixMilli(),
	}
	if err := s.store.Add(ctx, album); err != nil {
		s.logger.Error("album create failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		return Album{}, err
	}
	return album, nil
}

// Get returns one album, scoped to its owner. Albums belonging to another
// user are reported as not found rather than forbidden.
func (s *Service) Get(ctx context.Context, ownerID OwnerID, albumID AlbumID) (Album, error) {
	album, err := s.store.Get(ctx, albumID.String())
	if err != nil {
		return Album{}, err
	}
	if album.OwnerID != ownerID.String() {
		return Album{}, ErrAlbumNotFound
	}
	return album, nil
}

// Delete removes an album and, through the store, all of its memories.
func (s *Service) Delete(ctx context.Context, ownerID OwnerID, albumID AlbumID) error {
	if _, err := s.Get(ctx, ownerID, albumID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, albumID.String()); err != nil {
		s.logger.Error("album delete failed",
			zap.String("owner_id", ownerID.String()),
			zap.String("album_id", albumID.String()),
			zap.Error(err))
		return err
	}
	return nil
}

// List returns the owner's albums ordered by creation time.
func (s *Service) List(ctx context.Context, ownerID OwnerID) ([]Album, error) {
	return s.store.ListByOwner(ctx, ownerID.String())
}

// Subscribe delivers full snapshots of the owner's album list: one
// immediately, then one after every observed change. Only the most recent
// snapshot is retained when the consumer lags; the channel closes when ctx
// is cancelled.
func (s *Service) Subscribe(ctx context.Context, ownerID OwnerID) (<-chan []Album, error) {
	initial, err := s.store.ListByOwner(ctx, ownerID.String())
	if err != nil {
		return nil, err
	}

	ticks, cancel := s.feed.Watch(ctx, ownerID.String())
	out := make(chan []Album, 1)
	go func() {
		defer close(out)
		defer cancel()
		replaceSnapshot(out, initial)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ticks:
				if !ok {
					return
				}
				snapshot, err := s.store.ListByOwner(ctx, ownerID.String())
				if err != nil {
					s.logger.Warn("album list refresh failed",
						zap.String("owner_id", ownerID.String()), zap.Error(err))
					continue
				}
				replaceSnapshot(out, snapshot)
			}
		}
	}()
	return out, nil
}

// replaceSnapshot delivers the latest snapshot, discarding an undelivered
// older one rather than blocking behind it.
func replaceSnapshot(out chan []Album, snapshot []Album) {
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
