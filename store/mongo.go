package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ Store = &MongoStore{}

// MongoStore is a MongoDB-backed implementation of Store. Each credential is
// one document keyed by (user_id, service); Put is an upsert with $set so
// untouched fields survive a partial write.
type MongoStore struct {
	credentials *mongo.Collection
}

// NewMongoStore creates a new store backed by the given DB.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		credentials: db.Collection("service_credentials"),
	}
}

// Get retrieves the credential for one user+service key.
func (s *MongoStore) Get(ctx context.Context, userID string, service Service) (*Credential, error) {
	var doc Credential
	err := s.credentials.FindOne(ctx, bson.M{"user_id": userID, "service": service}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Put upserts the supplied fields for one user+service key.
func (s *MongoStore) Put(ctx context.Context, userID string, service Service, patch Patch) error {
	set := bson.M{}
	if patch.AccessToken != nil {
		set["access_token"] = *patch.AccessToken
	}
	if patch.RefreshToken != nil {
		set["refresh_token"] = *patch.RefreshToken
	}
	if patch.Scopes != nil {
		set["scopes"] = *patch.Scopes
	}
	if patch.ExpiresAt != nil {
		set["expires_at"] = patch.ExpiresAt.UTC()
	}
	if patch.GrantedAt != nil {
		set["granted_at"] = patch.GrantedAt.UTC()
	}
	if patch.LastRefreshed != nil {
		set["last_refreshed"] = patch.LastRefreshed.UTC()
	}
	filter := bson.M{"user_id": userID, "service": service}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"user_id": userID, "service": service},
	}
	opts := options.Update().SetUpsert(true)
	_, err := s.credentials.UpdateOne(ctx, filter, update, opts)
	return err
}

// Delete removes the credential for one user+service key. Deleting a key
// that does not exist is not an error; deletion is the re-consent signal and
// must be idempotent.
func (s *MongoStore) Delete(ctx context.Context, userID string, service Service) error {
	_, err := s.credentials.DeleteOne(ctx, bson.M{"user_id": userID, "service": service})
	return err
}

// List returns every credential linked by one user.
func (s *MongoStore) List(ctx context.Context, userID string) ([]*Credential, error) {
	cursor, err := s.credentials.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var out []*Credential
	for cursor.Next(ctx) {
		var doc Credential
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, &doc)
	}
	return out, cursor.Err()
}
