package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/memoryshelf/backend/internal/albums"
	"github.com/memoryshelf/backend/internal/memories"
	"github.com/memoryshelf/backend/internal/users"
)

const (
	collectionAlbums     = "albums"
	collectionMemories   = "memories"
	collectionIdentities = "identities"

	mongoConnectTimeout = 10 * time.Second
)

// OpenMongo establishes a connection to the document database and verifies
// it with a ping. Multi-document transactions require the deployment to run
// as a replica set.
func OpenMongo(ctx context.Context, uri string, databaseName string, logger *zap.Logger) (*mongo.Database, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if databaseName == "" {
		return nil, fmt.Errorf("mongo database name is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	if logger != nil {
		logger.Info("document database connected", zap.String("database", databaseName))
	}
	return client.Database(databaseName), nil
}

// MongoAlbumStore persists albums in a document database.
type MongoAlbumStore struct {
	albums   *mongo.Collection
	memories *mongo.Collection
	feed     *Changefeed
}

// NewMongoAlbumStore constructs an album store over the provided database.
func NewMongoAlbumStore(db *mongo.Database, feed *Changefeed) *MongoAlbumStore {
	return &MongoAlbumStore{
		albums:   db.Collection(collectionAlbums),
		memories: db.Collection(collectionMemories),
		feed:     feed,
	}
}

func (s *MongoAlbumStore) Get(ctx context.Context, albumID string) (albums.Album, error) {
	var album albums.Album
	err := s.albums.FindOne(ctx, bson.M{"_id": albumID}).Decode(&album)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return albums.Album{}, albums.ErrAlbumNotFound
	}
	if err != nil {
		return albums.Album{}, err
	}
	return album, nil
}

func (s *MongoAlbumStore) Add(ctx context.Context, album albums.Album) error {
	if _, err := s.albums.InsertOne(ctx, album); err != nil {
		return err
	}
	s.publish(album.OwnerID)
	return nil
}

// Delete removes the album and every memory it contains in one transaction.
func (s *MongoAlbumStore) Delete(ctx context.Context, albumID string) error {
	session, err := s.albums.Database().Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	var ownerID string
	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		var album albums.Album
		err := s.albums.FindOne(sessCtx, bson.M{"_id": albumID}).Decode(&album)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, albums.ErrAlbumNotFound
		}
		if err != nil {
			return nil, err
		}
		ownerID = album.OwnerID
		if _, err := s.memories.DeleteMany(sessCtx, bson.M{"album_id": albumID}); err != nil {
			return nil, err
		}
		_, err = s.albums.DeleteOne(sessCtx, bson.M{"_id": albumID})
		return nil, err
	})
	if err != nil {
		return err
	}
	s.publish(ownerID)
	s.publish(albumID)
	return nil
}

func (s *MongoAlbumStore) ListByOwner(ctx context.Context, ownerID string) ([]albums.Album, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "created_at_ms", Value: 1}})
	cursor, err := s.albums.Find(ctx, bson.M{"owner_id": ownerID}, findOptions)
	if err != nil {
		return nil, err
	}
	rows := []albums.Album{}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *MongoAlbumStore) publish(key string) {
	if s.feed != nil {
		s.feed.Publish(key)
	}
}

// MongoMemoryStore persists memories in a document database. Snapshots are
// ordered in Go so both storage backends share identical sort semantics.
type MongoMemoryStore struct {
	memories *mongo.Collection
	feed     *Changefeed
}

// NewMongoMemoryStore constructs a memory store over the provided database.
func NewMongoMemoryStore(db *mongo.Database, feed *Changefeed) *MongoMemoryStore {
	return &MongoMemoryStore{
		memories: db.Collection(collectionMemories),
		feed:     feed,
	}
}

func (s *MongoMemoryStore) Get(ctx context.Context, albumID, memoryID string) (memories.Memory, error) {
	var memory memories.Memory
	err := s.memories.FindOne(ctx, bson.M{"_id": memoryID, "album_id": albumID}).Decode(&memory)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return memories.Memory{}, memories.ErrMemoryNotFound
	}
	if err != nil {
		return memories.Memory{}, err
	}
	return memory, nil
}

func (s *MongoMemoryStore) Add(ctx context.Context, memory memories.Memory) error {
	if _, err := s.memories.InsertOne(ctx, memory); err != nil {
		return err
	}
	s.publish(memory.AlbumID)
	return nil
}

func (s *MongoMemoryStore) Update(ctx context.Context, albumID, memoryID string, edits memories.FieldEdits) error {
	updates := fieldEditDocument(edits)
	if len(updates) == 0 {
		return nil
	}
	result, err := s.memories.UpdateOne(ctx,
		bson.M{"_id": memoryID, "album_id": albumID},
		bson.M{"$set": updates})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return memories.ErrMemoryNotFound
	}
	s.publish(albumID)
	return nil
}

func (s *MongoMemoryStore) Delete(ctx context.Context, albumID, memoryID string) error {
	result, err := s.memories.DeleteOne(ctx, bson.M{"_id": memoryID, "album_id": albumID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return memories.ErrMemoryNotFound
	}
	s.publish(albumID)
	return nil
}

func (s *MongoMemoryStore) List(ctx context.Context, albumID string, sortKey memories.SortKey) ([]memories.Memory, error) {
	cursor, err := s.memories.Find(ctx, bson.M{"album_id": albumID})
	if err != nil {
		return nil, err
	}
	rows := []memories.Memory{}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	switch sortKey {
	case memories.SortByTakenAt:
		memories.SortSnapshotByTakenAt(rows)
	default:
		memories.SortSnapshot(rows)
	}
	return rows, nil
}

// BulkSetOrder commits every assignment as one transactional bulk write. A
// missing document aborts the whole batch.
func (s *MongoMemoryStore) BulkSetOrder(ctx context.Context, albumID string, assignments []memories.OrderAssignment) error {
	if len(assignments) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(assignments))
	for _, assignment := range assignments {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": assignment.MemoryID, "album_id": albumID}).
			SetUpdate(bson.M{"$set": bson.M{"display_order": assignment.Order}}))
	}

	session, err := s.memories.Database().Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		result, err := s.memories.BulkWrite(sessCtx, models, options.BulkWrite().SetOrdered(true))
		if err != nil {
			return nil, err
		}
		if result.MatchedCount != int64(len(models)) {
			return nil, memories.ErrMemoryNotFound
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.publish(albumID)
	return nil
}

func (s *MongoMemoryStore) publish(key string) {
	if s.feed != nil {
		s.feed.Publish(key)
	}
}

func fieldEditDocument(edits memories.FieldEdits) bson.M {
	updates := bson.M{}
	if edits.Title != nil {
		updates["title"] = *edits.Title
	}
	if edits.Note != nil {
		updates["note"] = *edits.Note
	}
	if edits.ImageURL != nil {
		updates["image_url"] = *edits.ImageURL
	}
	if edits.TakenAt != nil {
		updates["taken_at"] = *edits.TakenAt
	}
	return updates
}

// MongoIdentityStore persists provider identity mappings.
type MongoIdentityStore struct {
	identities *mongo.Collection
}

// NewMongoIdentityStore constructs an identity store over the provided database.
func NewMongoIdentityStore(db *mongo.Database) *MongoIdentityStore {
	return &MongoIdentityStore{identities: db.Collection(collectionIdentities)}
}

func (s *MongoIdentityStore) FindIdentity(provider string, subject string) (users.Identity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var identity users.Identity
	err := s.identities.FindOne(ctx, bson.M{"provider": provider, "subject": subject}).Decode(&identity)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return users.Identity{}, users.ErrIdentityNotFound
	}
	if err != nil {
		return users.Identity{}, err
	}
	return identity, nil
}

func (s *MongoIdentityStore) SaveIdentity(identity users.Identity) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.identities.ReplaceOne(ctx,
		bson.M{"provider": identity.Provider, "subject": identity.Subject},
		identity,
		options.Replace().SetUpsert(true))
	return err
}
