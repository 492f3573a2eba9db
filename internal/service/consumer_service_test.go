package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rag-chat-be/internal/constant"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/pkg/rwlock"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopic = "INGEST_DOCUMENT_TEST"

func newConsumerFixture(t *testing.T, idx *fakeIndex) (*gochannel.GoChannel, *fakeFactory, IUploadService) {
	t.Helper()
	pubSub, factory, uploads, _ := newConsumerFixtureWithLock(t, idx)
	return pubSub, factory, uploads
}

func newConsumerFixtureWithLock(t *testing.T, idx *fakeIndex) (*gochannel.GoChannel, *fakeFactory, IUploadService, *rwlock.PriorityLock) {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	factory := newFakeFactory()
	uploads := NewUploadService(factory, NewPublisherService(testTopic, pubSub), t.TempDir(), logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	lock := rwlock.New()
	consumer := NewConsumerService(pubSub, testTopic, idx, lock, uploads, logger.NewNopLogger())
	require.NoError(t, consumer.Consume(ctx))

	return pubSub, factory, uploads, lock
}

func TestConsumerIndexesQueuedDocument(t *testing.T) {
	idx := &fakeIndex{}
	_, factory, uploads := newConsumerFixture(t, idx)

	res, err := uploads.Enqueue(context.Background(), "faq.txt", "text/plain", stringsReader("Q: why? A: because."))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f := factory.uploads.only()
		return f != nil && f.Status == constant.UploadStatusIndexed
	}, timeout, tick)

	require.Len(t, idx.rebuilt, 1)
	assert.Equal(t, "faq.txt", filepath.Base(idx.rebuilt[0]))
	assert.Equal(t, []string{"Q: why? A: because."}, idx.contents)
	assert.Equal(t, res.Id, factory.uploads.only().Id)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Dir(idx.rebuilt[0]))
		return os.IsNotExist(err)
	}, timeout, tick)
}

func TestConsumerMarksFailedBuild(t *testing.T) {
	idx := &fakeIndex{rebuildErr: errors.New("embedding backend down")}
	_, factory, uploads := newConsumerFixture(t, idx)

	_, err := uploads.Enqueue(context.Background(), "faq.txt", "text/plain", stringsReader("body"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f := factory.uploads.only()
		return f != nil && f.Status == constant.UploadStatusFailed
	}, timeout, tick)
	assert.Equal(t, "embedding backend down", factory.uploads.only().Meta["error"])
}

func TestConsumerAcksUndecodablePayload(t *testing.T) {
	idx := &fakeIndex{}
	pubSub, _, uploads := newConsumerFixture(t, idx)

	bad := message.NewMessage(watermill.NewUUID(), []byte("not json"))
	require.NoError(t, pubSub.Publish(testTopic, bad))

	// a valid job published afterwards is still processed
	_, err := uploads.Enqueue(context.Background(), "later.txt", "text/plain", stringsReader("ok"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		return len(idx.rebuilt) == 1
	}, timeout, tick)
}

func TestConsumerReleasesLockWhenIndexPanics(t *testing.T) {
	idx := &fakeIndex{rebuildPanic: true}
	_, factory, uploads, lock := newConsumerFixtureWithLock(t, idx)

	_, err := uploads.Enqueue(context.Background(), "faq.txt", "text/plain", stringsReader("body"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f := factory.uploads.only()
		return f != nil && f.Status == constant.UploadStatusFailed
	}, timeout, tick)
	assert.Contains(t, factory.uploads.only().Meta["error"], "vector store exploded")

	assert.False(t, lock.State().Writing)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	require.NoError(t, lock.RLock(ctx))
	lock.RUnlock()
}
