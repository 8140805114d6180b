package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/memoryshelf/backend/internal/albums"
	"github.com/memoryshelf/backend/internal/memories"
	"github.com/memoryshelf/backend/internal/users"
)

// mongoTestURIEnv names the deployment used by the document-store tests.
// Transactions require a replica set, so point it at one, e.g.
// mongodb://localhost:27017/?replicaSet=rs0.
const mongoTestURIEnv = "MEMORYSHELF_TEST_MONGO_URI"

func openTestMongo(t *testing.T) (*MongoAlbumStore, *MongoMemoryStore, *MongoIdentityStore) {
	t.Helper()
	uri := os.Getenv(mongoTestURIEnv)
	if uri == "" {
		t.Skipf("set %s to a replica-set deployment to run the document-store tests", mongoTestURIEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	databaseName := fmt.Sprintf("memoryshelf_test_%d", time.Now().UnixNano())
	db, err := OpenMongo(ctx, uri, databaseName, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer dropCancel()
		_ = db.Drop(dropCtx)
		_ = db.Client().Disconnect(dropCtx)
	})

	feed := NewChangefeed()
	return NewMongoAlbumStore(db, feed), NewMongoMemoryStore(db, feed), NewMongoIdentityStore(db)
}

func TestMongoAlbumRoundTripAndCascadeDelete(t *testing.T) {
	albumStore, memoryStore, _ := openTestMongo(t)
	ctx := context.Background()

	if err := albumStore.Add(ctx, albums.Album{
		AlbumID: "album-1", OwnerID: "owner-1", Title: "Trip", CreatedAtMillis: 10,
	}); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if err := albumStore.Add(ctx, albums.Album{
		AlbumID: "album-2", OwnerID: "owner-1", Title: "Later", CreatedAtMillis: 20,
	}); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	listed, err := albumStore.ListByOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 2 || listed[0].AlbumID != "album-1" {
		t.Fatalf("expected creation-time ordering, got %#v", listed)
	}

	order := int64(0)
	if err := memoryStore.Add(ctx, memories.Memory{
		MemoryID: "mem-1", AlbumID: "album-1", ImageURL: "u", Order: &order,
	}); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	if err := albumStore.Delete(ctx, "album-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := albumStore.Get(ctx, "album-1"); !errors.Is(err, albums.ErrAlbumNotFound) {
		t.Fatalf("expected the album to be gone, got %v", err)
	}
	if _, err := memoryStore.Get(ctx, "album-1", "mem-1"); !errors.Is(err, memories.ErrMemoryNotFound) {
		t.Fatalf("expected the cascade to remove the memory, got %v", err)
	}
}

func TestMongoMemoryNotFoundMapping(t *testing.T) {
	_, memoryStore, _ := openTestMongo(t)
	ctx := context.Background()

	title := "renamed"
	if err := memoryStore.Update(ctx, "album-1", "ghost", memories.FieldEdits{Title: &title}); !errors.Is(err, memories.ErrMemoryNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
	if err := memoryStore.Delete(ctx, "album-1", "ghost"); !errors.Is(err, memories.ErrMemoryNotFound) {
		t.Fatalf("expected not found on delete, got %v", err)
	}
}

func TestMongoBulkSetOrderIsAtomic(t *testing.T) {
	_, memoryStore, _ := openTestMongo(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		order := int64(i)
		if err := memoryStore.Add(ctx, memories.Memory{
			MemoryID: id, AlbumID: "album-1", ImageURL: "u", Order: &order,
		}); err != nil {
			t.Fatalf("unexpected add error: %v", err)
		}
	}

	err := memoryStore.BulkSetOrder(ctx, "album-1", []memories.OrderAssignment{
		{MemoryID: "a", Order: 2},
		{MemoryID: "ghost", Order: 0},
		{MemoryID: "c", Order: 1},
	})
	if !errors.Is(err, memories.ErrMemoryNotFound) {
		t.Fatalf("expected a missing document to abort the batch, got %v", err)
	}
	snapshot, err := memoryStore.List(ctx, "album-1", memories.SortByOrder)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	for i, entry := range snapshot {
		if entry.Order == nil || *entry.Order != int64(i) {
			t.Fatalf("aborted batch must leave stored orders untouched, got %#v", snapshot)
		}
	}

	if err := memoryStore.BulkSetOrder(ctx, "album-1", []memories.OrderAssignment{
		{MemoryID: "c", Order: 0},
		{MemoryID: "a", Order: 1},
		{MemoryID: "b", Order: 2},
	}); err != nil {
		t.Fatalf("unexpected bulk error: %v", err)
	}
	snapshot, err = memoryStore.List(ctx, "album-1", memories.SortByOrder)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	for i, want := range []string{"c", "a", "b"} {
		if snapshot[i].MemoryID != want {
			t.Fatalf("unexpected committed order: %#v", snapshot)
		}
	}
}

func TestMongoIdentityUpsert(t *testing.T) {
	_, _, identityStore := openTestMongo(t)

	identity := users.Identity{
		Provider: users.ProviderGoogle, Subject: "user-123", UserID: "user-123",
		Email: "first@example.com", FirstSeenAtMillis: 10, LastSeenAtMillis: 10,
	}
	if err := identityStore.SaveIdentity(identity); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	identity.Email = "second@example.com"
	identity.LastSeenAtMillis = 20
	if err := identityStore.SaveIdentity(identity); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	found, err := identityStore.FindIdentity(users.ProviderGoogle, "user-123")
	if err != nil {
		t.Fatalf("unexpected find error: %v", err)
	}
	if found.Email != "second@example.com" || found.LastSeenAtMillis != 20 {
		t.Fatalf("expected the replace to win, got %#v", found)
	}
	if _, err := identityStore.FindIdentity(users.ProviderGoogle, "ghost"); !errors.Is(err, users.ErrIdentityNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
