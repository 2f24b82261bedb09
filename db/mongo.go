package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"predictive-maintenance/machine"
)

const profilesCollection = "machine_profiles"

// MongoStore keeps one profile document per machine. The record is stored as
// its JSON text so that every backend deserialises through machine.Unmarshal.
type MongoStore struct {
	client   *mongo.Client
	database string
}

var _ machine.Store = (*MongoStore)(nil)

type profileDocument struct {
	ID        string    `bson:"_id"`
	Record    string    `bson:"record"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		database = "predictive_maintenance"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("error pinging MongoDB: %w", err)
	}

	return &MongoStore{client: client, database: database}, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) collection(name string) *mongo.Collection {
	return s.client.Database(s.database).Collection(name)
}

func (s *MongoStore) Put(ctx context.Context, key string, data []byte) error {
	if err := machine.ValidateID(key); err != nil {
		return err
	}
	doc := profileDocument{ID: key, Record: string(data), UpdatedAt: time.Now().UTC()}
	_, err := s.collection(profilesCollection).ReplaceOne(ctx,
		bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("error storing profile %s: %w", key, err)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context) ([]machine.StoredRecord, error) {
	cursor, err := s.collection(profilesCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error querying profiles: %w", err)
	}
	defer cursor.Close(ctx)

	var records []machine.StoredRecord
	for cursor.Next(ctx) {
		var doc profileDocument
		if err := cursor.Decode(&doc); err != nil {
			id, _ := cursor.Current.Lookup("_id").StringValueOK()
			records = append(records, machine.StoredRecord{Key: id, Err: err})
			continue
		}
		records = append(records, machine.StoredRecord{Key: doc.ID, Data: []byte(doc.Record)})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return records, nil
}

// ReplaceAll fills a staging collection and renames it over the live one.
func (s *MongoStore) ReplaceAll(ctx context.Context, records []machine.StoredRecord) error {
	stagingName := fmt.Sprintf("%s_staging_%d", profilesCollection, time.Now().UnixNano())
	staging := s.collection(stagingName)

	if len(records) > 0 {
		now := time.Now().UTC()
		docs := make([]interface{}, 0, len(records))
		for _, rec := range records {
			if err := machine.ValidateID(rec.Key); err != nil {
				return err
			}
			docs = append(docs, profileDocument{ID: rec.Key, Record: string(rec.Data), UpdatedAt: now})
		}
		if _, err := staging.InsertMany(ctx, docs); err != nil {
			staging.Drop(ctx)
			return fmt.Errorf("error staging profiles: %w", err)
		}
	} else if err := s.client.Database(s.database).CreateCollection(ctx, stagingName); err != nil {
		return fmt.Errorf("error creating staging collection: %w", err)
	}

	rename := bson.D{
		{Key: "renameCollection", Value: s.database + "." + stagingName},
		{Key: "to", Value: s.database + "." + profilesCollection},
		{Key: "dropTarget", Value: true},
	}
	if err := s.client.Database("admin").RunCommand(ctx, rename).Err(); err != nil {
		staging.Drop(ctx)
		return fmt.Errorf("error swapping profile collection: %w", err)
	}
	return nil
}
