package objectstore_test

import (
	"context"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/objectstore"
)

func startTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func TestStoreUploadDownload(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := startTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "narration-text")
	require.NoError(t, err)

	ctx := context.Background()
	key := "chapter-one.txt"
	uploaded := []byte("It was a dark and stormy night. The narrator cleared his throat.")

	err = store.Upload(ctx, key, uploaded)
	require.NoError(t, err)

	downloaded, err := store.Download(ctx, key)
	require.NoError(t, err)

	require.Equal(t, uploaded, downloaded)
}

func TestStoreBindsToExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := startTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := objectstore.New(jetstreamContext, "narration-audio")
	require.NoError(t, err)

	ctx := context.Background()

	err = first.Upload(ctx, "narration.wav", []byte{0x52, 0x49, 0x46, 0x46})
	require.NoError(t, err)

	// A second worker binding to the same bucket sees the same objects.
	second, err := objectstore.New(jetstreamContext, "narration-audio")
	require.NoError(t, err)

	data, err := second.Download(ctx, "narration.wav")
	require.NoError(t, err)
	require.Equal(t, []byte{0x52, 0x49, 0x46, 0x46}, data)
}

func TestStoreDownloadMissingKey(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := startTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "narration-missing")
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "no-such-object")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no-such-object")
}
