// Package objectstore_test tests the object store implementations.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/render-gateway/internal/core"
	"github.com/book-expert/render-gateway/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func exerciseStore(t *testing.T, store core.ObjectStore) {
	t.Helper()

	ctx := context.Background()
	key := "0f3a.mp3"
	audio := []byte("ID3 fake mp3 frames")

	exists, err := store.Head(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(ctx, key)
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, store.Put(ctx, key, audio, "audio/mpeg"))

	exists, err = store.Head(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	obj, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, audio, obj.Data)
	assert.Equal(t, "audio/mpeg", obj.ContentType)
}

func TestNatsObjectStore_HeadGetPut(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "test-bucket")
	require.NoError(t, err)

	exerciseStore(t, store)
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := objectstore.New(jetstreamContext, "shared")
	require.NoError(t, err)
	require.NoError(t, first.Put(context.Background(), "k", []byte("v"), ""))

	second, err := objectstore.New(jetstreamContext, "shared")
	require.NoError(t, err)

	obj, err := second.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), obj.Data)
	assert.Empty(t, obj.ContentType)
}

func TestMemory_HeadGetPut(t *testing.T) {
	t.Parallel()

	exerciseStore(t, objectstore.NewMemory())
}
