package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/service"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// fakeBroker брокер в памяти
type fakeBroker struct {
	mu           sync.Mutex
	handlers     map[string]MessageHandler
	subscribeErr error
	publishErr   error
	published    map[string][][]byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers:  make(map[string]MessageHandler),
		published: make(map[string][][]byte),
	}
}

func (b *fakeBroker) Subscribe(topic string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published[topic] = append(b.published[topic], payload)
	return nil
}

func (b *fakeBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	handler := b.handlers[topic]
	b.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

func TestLocationProvider_DeliversFixes(t *testing.T) {
	broker := newFakeBroker()
	provider := NewLocationProvider(broker, "runtracker/location", utils.NewNopLogger())
	ctx := context.Background()

	_, err := provider.CurrentLocation(ctx)
	assert.ErrorIs(t, err, models.ErrNoFix)

	var received []models.GeoSample
	require.NoError(t, provider.Subscribe(ctx, func(s models.GeoSample) { received = append(received, s) }))

	payload, err := json.Marshal(NewFixMessage(models.NewGeoSample(46.5, 8.1, fixTime)))
	require.NoError(t, err)
	broker.deliver("runtracker/location", payload)
	broker.deliver("runtracker/location", []byte("not json"))

	require.Len(t, received, 1)
	assert.Equal(t, 46.5, received[0].Latitude)

	last, err := provider.CurrentLocation(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixTime, last.Timestamp)

	provider.Unsubscribe()
	broker.deliver("runtracker/location", payload)
	assert.Len(t, received, 1)
}

func TestLocationProvider_PermissionDenied(t *testing.T) {
	broker := newFakeBroker()
	broker.subscribeErr = models.ErrPermissionDenied
	provider := NewLocationProvider(broker, "runtracker/location", utils.NewNopLogger())

	err := provider.Subscribe(context.Background(), func(models.GeoSample) {})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
}

func TestNotifier_PublishesByType(t *testing.T) {
	broker := newFakeBroker()
	notifier := NewNotifier(broker, "runtracker/events", utils.NewNopLogger())

	event := service.Event{Type: service.EventSplitComplete, RunID: "run-1", Split: &models.Split{Number: 1, Distance: 1000}}
	require.NoError(t, notifier.Notify(context.Background(), event))

	published := broker.published["runtracker/events/split_complete"]
	require.Len(t, published, 1)

	var decoded service.Event
	require.NoError(t, json.Unmarshal(published[0], &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	require.NotNil(t, decoded.Split)
	assert.Equal(t, 1, decoded.Split.Number)

	broker.publishErr = errors.New("not connected")
	assert.Error(t, notifier.Notify(context.Background(), event))
}
