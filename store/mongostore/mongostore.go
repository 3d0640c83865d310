// Package mongostore implements store.Store on top of MongoDB, one document
// per recording with its signal log embedded as an array.
//
// Grounded on features/run/mongo's client (bson document mapping, injected
// *mongo.Client, UpdateOne-with-upsert for Upsert-shaped writes, FindOne /
// mongo.ErrNoDocuments handling) adopting the v2 driver (go.mongodb.org/
// mongo-driver/v2) rather than the teacher's v1 import path; the API shape
// (bson.M filters, options.Find/Update) carries over unchanged between
// major versions.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowkit/signalkernel/internal/idgen"
	"github.com/flowkit/signalkernel/signal"
	"github.com/flowkit/signalkernel/store"
)

const defaultOpTimeout = 5 * time.Second

// Store implements store.Store against a MongoDB collection.
type Store struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// Options configures Store.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	// Timeout bounds every individual operation. Defaults to 5s.
	Timeout time.Duration
}

// New returns a Store backed by the given Mongo client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = "signal_recordings"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	idx := mongo.IndexModel{Keys: bson.D{{Key: "recording_id", Value: 1}}, Options: options.Index().SetUnique(true)}
	if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, err
	}
	return &Store{coll: coll, timeout: timeout}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

type recordingDoc struct {
	RecordingID  string          `bson:"recording_id"`
	Name         string          `bson:"name,omitempty"`
	Tags         []string        `bson:"tags,omitempty"`
	ProviderType string          `bson:"provider_type,omitempty"`
	Status       store.Status    `bson:"status"`
	CreatedAt    time.Time       `bson:"created_at"`
	FinalizedAt  *time.Time      `bson:"finalized_at,omitempty"`
	DurationMs   *int64          `bson:"duration_ms,omitempty"`
	Result       any             `bson:"result,omitempty"`
	Signals      []signal.EnrichedEvent `bson:"signals,omitempty"`
}

func (d recordingDoc) meta() store.Meta {
	return store.Meta{
		RecordingID:  d.RecordingID,
		Name:         d.Name,
		Tags:         d.Tags,
		ProviderType: d.ProviderType,
		Status:       d.Status,
		CreatedAt:    d.CreatedAt,
		FinalizedAt:  d.FinalizedAt,
		DurationMs:   d.DurationMs,
		Result:       d.Result,
	}
}

func (s *Store) Create(ctx context.Context, meta store.Meta) (string, error) {
	if meta.RecordingID == "" {
		meta.RecordingID = idgen.Prefixed("rec")
	}
	doc := recordingDoc{
		RecordingID:  meta.RecordingID,
		Name:         meta.Name,
		Tags:         meta.Tags,
		ProviderType: meta.ProviderType,
		Status:       store.StatusOpen,
		CreatedAt:    time.Now(),
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", signal.Internal("mongostore.create", err)
	}
	return doc.RecordingID, nil
}

func (s *Store) Append(ctx context.Context, recordingID string, ev signal.EnrichedEvent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"recording_id": recordingID, "status": store.StatusOpen}
	update := bson.M{"$push": bson.M{"signals": ev}}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return signal.Internal("mongostore.append", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	// No match: either the recording does not exist, or it is finalized.
	n, err := s.coll.CountDocuments(ctx, bson.M{"recording_id": recordingID})
	if err != nil {
		return signal.Internal("mongostore.append", err)
	}
	if n == 0 {
		return signal.NotFound("mongostore.append", recordingID)
	}
	return signal.Conflict("mongostore.append", "recording is finalized")
}

func (s *Store) Finalize(ctx context.Context, recordingID string, durationMs *int64, result any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now()
	filter := bson.M{"recording_id": recordingID, "status": store.StatusOpen}
	update := bson.M{"$set": bson.M{
		"status":       store.StatusFinalized,
		"finalized_at": now,
		"duration_ms":  durationMs,
		"result":       result,
	}}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return signal.Internal("mongostore.finalize", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := s.coll.CountDocuments(ctx, bson.M{"recording_id": recordingID})
	if err != nil {
		return signal.Internal("mongostore.finalize", err)
	}
	if n == 0 {
		return signal.NotFound("mongostore.finalize", recordingID)
	}
	// Already finalized: idempotent no-op.
	return nil
}

func (s *Store) Load(ctx context.Context, recordingID string) (store.Recording, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc recordingDoc
	err := s.coll.FindOne(ctx, bson.M{"recording_id": recordingID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Recording{}, signal.NotFound("mongostore.load", recordingID)
	}
	if err != nil {
		return store.Recording{}, signal.Internal("mongostore.load", err)
	}
	return store.Recording{Meta: doc.meta(), Signals: doc.Signals}, nil
}

func (s *Store) List(ctx context.Context, filter store.Filter) ([]store.Meta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := bson.M{}
	if filter.Name != "" {
		q["name"] = filter.Name
	}
	if filter.ProviderType != "" {
		q["provider_type"] = filter.ProviderType
	}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if len(filter.Tags) > 0 {
		q["tags"] = bson.M{"$all": filter.Tags}
	}
	opts := options.Find().SetProjection(bson.M{"signals": 0})
	cur, err := s.coll.Find(ctx, q, opts)
	if err != nil {
		return nil, signal.Internal("mongostore.list", err)
	}
	defer cur.Close(ctx)

	var out []store.Meta
	for cur.Next(ctx) {
		var doc recordingDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, signal.Internal("mongostore.list", err)
		}
		out = append(out, doc.meta())
	}
	return out, cur.Err()
}

func (s *Store) Delete(ctx context.Context, recordingID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.DeleteOne(ctx, bson.M{"recording_id": recordingID}); err != nil {
		return signal.Internal("mongostore.delete", err)
	}
	return nil
}
