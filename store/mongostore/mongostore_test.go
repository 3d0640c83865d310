package mongostore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowkit/signalkernel/signal"
	"github.com/flowkit/signalkernel/store"
)

var (
	testClient     *mongo.Client
	testContainer  testcontainers.Container
	skipMongoTests bool
)

func setupMongo() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipMongoTests = true
		return
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		skipMongoTests = true
		return
	}
	port, err := testContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testClient, err = mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipMongoTests = true
		return
	}
	if err := testClient.Ping(ctx, nil); err != nil {
		skipMongoTests = true
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testClient == nil && !skipMongoTests {
		setupMongo()
	}
	if skipMongoTests {
		t.Skip("docker not available, skipping mongostore integration test")
	}
	db := testClient.Database("signalkernel_test")
	require.NoError(t, db.Collection(t.Name()).Drop(context.Background()))
	s, err := New(Options{Client: testClient, Database: "signalkernel_test", Collection: t.Name()})
	require.NoError(t, err)
	return s
}

func TestMongostoreCreateAppendFinalizeLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Create(ctx, store.Meta{Name: "run-1", Tags: []string{"demo"}})
	require.NoError(t, err)

	require.NoError(t, s.Append(ctx, id, signal.EnrichedEvent{ID: "e1", Name: "task:start"}))
	require.NoError(t, s.Append(ctx, id, signal.EnrichedEvent{ID: "e2", Name: "task:complete"}))

	dur := int64(42)
	require.NoError(t, s.Finalize(ctx, id, &dur, map[string]any{"content": "Hello"}))
	require.NoError(t, s.Finalize(ctx, id, &dur, nil), "finalize must be idempotent")

	rec, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusFinalized, rec.Status)
	require.Len(t, rec.Signals, 2)
	require.Equal(t, int64(42), *rec.DurationMs)
}

func TestMongostoreAppendAfterFinalizeConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Create(ctx, store.Meta{Name: "run-1"})
	require.NoError(t, err)
	require.NoError(t, s.Finalize(ctx, id, nil, nil))

	err = s.Append(ctx, id, signal.EnrichedEvent{ID: "e1", Name: "x"})
	require.Error(t, err)
	var kernelErr *signal.Error
	require.ErrorAs(t, err, &kernelErr)
	require.Equal(t, signal.KindConflict, kernelErr.Kind)
}

func TestMongostoreListFiltersByTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Create(ctx, store.Meta{Name: "alpha", Tags: []string{"a", "b"}})
	require.NoError(t, err)
	_, err = s.Create(ctx, store.Meta{Name: "beta", Tags: []string{"b"}})
	require.NoError(t, err)

	metas, err := s.List(ctx, store.Filter{Tags: []string{"a"}})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, "alpha", metas[0].Name)
}
