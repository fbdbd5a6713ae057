package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is a DocumentStore over MongoDB. The first path segment names
// the collection and the second is the document _id.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewMongoStore connects to uri and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &StorageError{Op: "connect", Entity: database, Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, &StorageError{Op: "connect", Entity: database, Err: err}
	}
	return &MongoStore{client: client, database: client.Database(database)}, nil
}

// NewMongoStoreFromDatabase wraps an existing database handle. Close does not
// disconnect a client it did not create.
func NewMongoStoreFromDatabase(db *mongo.Database) *MongoStore {
	return &MongoStore{database: db}
}

func (s *MongoStore) collection(op, path string) (*mongo.Collection, string, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return nil, "", &StorageError{Op: op, Entity: path, Err: err}
	}
	return s.database.Collection(collection), id, nil
}

func (s *MongoStore) Get(ctx context.Context, path string) (Document, error) {
	coll, id, err := s.collection("get", path)
	if err != nil {
		return nil, err
	}

	var raw bson.M
	if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			err = ErrNotFound
		}
		return nil, &StorageError{Op: "get", Entity: coll.Name(), ID: id, Err: err}
	}

	doc, err := fromBSON(raw)
	if err != nil {
		return nil, &StorageError{Op: "get", Entity: coll.Name(), ID: id, Err: err}
	}
	return doc, nil
}

func (s *MongoStore) Set(ctx context.Context, path string, doc Document, opts ...SetOption) error {
	coll, id, err := s.collection("set", path)
	if err != nil {
		return err
	}
	in, err := normalize(doc)
	if err != nil {
		return &StorageError{Op: "set", Entity: coll.Name(), ID: id, Err: err}
	}
	delete(in, "_id")

	if applySetOptions(opts).merge {
		set := make(map[string]any)
		flatten("", in, set)
		if len(set) == 0 {
			return nil
		}
		_, err = coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set}, options.Update().SetUpsert(true))
	} else {
		_, err = coll.ReplaceOne(ctx, bson.M{"_id": id}, in, options.Replace().SetUpsert(true))
	}
	if err != nil {
		return &StorageError{Op: "set", Entity: coll.Name(), ID: id, Err: err}
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, path string, fields Document) error {
	coll, id, err := s.collection("update", path)
	if err != nil {
		return err
	}
	in, err := normalize(fields)
	if err != nil {
		return &StorageError{Op: "update", Entity: coll.Name(), ID: id, Err: err}
	}
	delete(in, "_id")

	set := make(map[string]any)
	flatten("", in, set)
	if len(set) == 0 {
		// Still report a missing document.
		_, err := s.Get(ctx, path)
		return err
	}

	res, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return &StorageError{Op: "update", Entity: coll.Name(), ID: id, Err: err}
	}
	if res.MatchedCount == 0 {
		return &StorageError{Op: "update", Entity: coll.Name(), ID: id, Err: ErrNotFound}
	}
	return nil
}

func (s *MongoStore) ArrayUnion(ctx context.Context, path, field string, values ...any) error {
	coll, id, err := s.collection("union", path)
	if err != nil {
		return err
	}
	in, err := normalizeValues(values)
	if err != nil {
		return &StorageError{Op: "union", Entity: coll.Name(), ID: id, Err: err}
	}
	if in == nil {
		in = []any{}
	}

	update := bson.M{"$addToSet": bson.M{field: bson.M{"$each": in}}}
	if _, err := coll.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true)); err != nil {
		return &StorageError{Op: "union", Entity: coll.Name(), ID: id, Err: err}
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, path string) error {
	coll, id, err := s.collection("delete", path)
	if err != nil {
		return err
	}
	if _, err := coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return &StorageError{Op: "delete", Entity: coll.Name(), ID: id, Err: err}
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, collection string) (map[string]Document, error) {
	cursor, err := s.database.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: collection, Err: err}
	}
	defer cursor.Close(ctx)

	out := make(map[string]Document)
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, &StorageError{Op: "list", Entity: collection, Err: err}
		}
		id := fmt.Sprint(raw["_id"])
		doc, err := fromBSON(raw)
		if err != nil {
			return nil, &StorageError{Op: "list", Entity: collection, ID: id, Err: err}
		}
		out[id] = doc
	}
	if err := cursor.Err(); err != nil {
		return nil, &StorageError{Op: "list", Entity: collection, Err: err}
	}
	return out, nil
}

// Close disconnects the client when the store owns it.
func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// fromBSON converts a decoded BSON document into plain JSON types and drops
// the _id key.
func fromBSON(raw bson.M) (Document, error) {
	delete(raw, "_id")
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	}
	return doc, nil
}
