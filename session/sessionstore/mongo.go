// Grounded on features/session/mongo (and the Upsert/FindOne shape shared
// with store/mongostore) from the teacher repository, adopting the v2 driver.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultOpTimeout = 5 * time.Second

// MongoStore implements Store against two MongoDB collections: sessions and
// runs, indexed by their respective ids.
type MongoStore struct {
	sessions *mongo.Collection
	runs     *mongo.Collection
	timeout  time.Duration
}

// MongoOptions configures MongoStore.
type MongoOptions struct {
	Client   *mongo.Client
	Database string
	// Timeout bounds every individual operation. Defaults to 5s.
	Timeout time.Duration
}

// NewMongo returns a MongoStore backed by the given client, creating unique
// indexes on first use.
func NewMongo(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, errors.New("sessionstore: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("sessionstore: database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	sessions := db.Collection("sessions")
	runs := db.Collection("runs")

	idxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := sessions.Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}
	if _, err := runs.Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}
	return &MongoStore{sessions: sessions, runs: runs, timeout: timeout}, nil
}

type sessionDoc struct {
	SessionID string     `bson:"session_id"`
	Status    Status     `bson:"status"`
	CreatedAt time.Time  `bson:"created_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty"`
}

func (d sessionDoc) toSession() Session {
	return Session{ID: d.SessionID, Status: d.Status, CreatedAt: d.CreatedAt, EndedAt: d.EndedAt}
}

type runDoc struct {
	RunID     string         `bson:"run_id"`
	SessionID string         `bson:"session_id"`
	Status    RunStatus      `bson:"status"`
	StartedAt time.Time      `bson:"started_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
	Labels    map[string]string `bson:"labels,omitempty"`
	Metadata  map[string]any    `bson:"metadata,omitempty"`
}

func (d runDoc) toRun() Run {
	return Run{
		RunID: d.RunID, SessionID: d.SessionID, Status: d.Status,
		StartedAt: d.StartedAt, UpdatedAt: d.UpdatedAt, Labels: d.Labels, Metadata: d.Metadata,
	}
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoStore) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (Session, error) {
	if sessionID == "" {
		return Session{}, errors.New("sessionstore: session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var existing sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&existing)
	switch {
	case err == nil:
		if existing.Status == StatusEnded {
			return Session{}, ErrSessionEnded
		}
		return existing.toSession(), nil
	case errors.Is(err, mongo.ErrNoDocuments):
		doc := sessionDoc{SessionID: sessionID, Status: StatusActive, CreatedAt: createdAt.UTC()}
		if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
			return Session{}, err
		}
		return doc.toSession(), nil
	default:
		return Session{}, err
	}
}

func (s *MongoStore) LoadSession(ctx context.Context, sessionID string) (Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc sessionDoc
	if err := s.sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	return doc.toSession(), nil
}

func (s *MongoStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	at := endedAt.UTC()
	res := s.sessions.FindOneAndUpdate(ctx,
		bson.M{"session_id": sessionID, "status": bson.M{"$ne": StatusEnded}},
		bson.M{"$set": bson.M{"status": StatusEnded, "ended_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var doc sessionDoc
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Either unknown or already ended; distinguish by a plain load.
			return s.LoadSession(ctx, sessionID)
		}
		return Session{}, err
	}
	return doc.toSession(), nil
}

func (s *MongoStore) UpsertRun(ctx context.Context, run Run) error {
	if run.RunID == "" || run.SessionID == "" {
		return errors.New("sessionstore: run id and session id are required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	now := time.Now().UTC()
	set := bson.M{
		"session_id": run.SessionID,
		"status":     run.Status,
		"updated_at": now,
		"labels":     run.Labels,
		"metadata":   run.Metadata,
	}
	setOnInsert := bson.M{"run_id": run.RunID}
	if !run.StartedAt.IsZero() {
		setOnInsert["started_at"] = run.StartedAt.UTC()
	} else {
		setOnInsert["started_at"] = now
	}
	_, err := s.runs.UpdateOne(ctx,
		bson.M{"run_id": run.RunID},
		bson.M{"$set": set, "$setOnInsert": setOnInsert},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) LoadRun(ctx context.Context, runID string) (Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc runDoc
	if err := s.runs.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, err
	}
	return doc.toRun(), nil
}

func (s *MongoStore) ListRunsBySession(ctx context.Context, sessionID string, statuses []RunStatus) ([]Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	cur, err := s.runs.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []Run
	for cur.Next(ctx) {
		var doc runDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRun())
	}
	return out, cur.Err()
}
