package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spadhi7/datahub/pkg/kafka"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
}

func (p *recordingPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (p *recordingPublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestCollector_FlushesFullBatches(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 100, 2, time.Hour)
	c.Start(context.Background())

	for i := 0; i < 4; i++ {
		c.Track(SearchEvent{Type: EventSearch, Input: "orders"})
	}
	require.Eventually(t, func() bool { return pub.total() == 4 }, time.Second, 5*time.Millisecond)
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 2)
	assert.Equal(t, "search", pub.batches[0][0].Key)
	assert.IsType(t, SearchEvent{}, pub.batches[0][0].Value)
}

func TestCollector_CloseFlushesRemainder(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 100, 50, time.Hour)
	c.Start(context.Background())

	c.Track(SearchEvent{Type: EventScroll})
	c.Track(SearchEvent{Type: EventZeroResult})
	c.Close()

	assert.Equal(t, 2, pub.total())
}

func TestCollector_CancelFlushesRemainder(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 100, 50, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(SearchEvent{Type: EventSearchAcross})
	require.Eventually(t, func() bool { return len(c.eventCh) == 0 }, time.Second, time.Millisecond)
	cancel()
	<-c.done

	assert.Equal(t, 1, pub.total())
}

func TestCollector_DropsWhenBufferFull(t *testing.T) {
	c := NewCollector(&recordingPublisher{}, 1, 10, time.Hour)
	c.Track(SearchEvent{Type: EventSearch})
	c.Track(SearchEvent{Type: EventSearch})
	assert.Len(t, c.eventCh, 1)
}

func TestCollector_TrackAfterCloseIsDropped(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 100, 50, time.Hour)
	c.Start(context.Background())
	c.Track(SearchEvent{Type: EventSearch})
	c.Close()

	assert.NotPanics(t, func() {
		c.Track(SearchEvent{Type: EventSearch})
		c.Close()
	})
	assert.Equal(t, 1, pub.total())
}

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(context.Context) error {
	f.calls++
	return f.err
}

type fakeInvalidator struct{ calls int }

func (f *fakeInvalidator) Invalidate(context.Context) error {
	f.calls++
	return nil
}

func TestInvalidationListener(t *testing.T) {
	refresher := &fakeRefresher{}
	invalidator := &fakeInvalidator{}
	l := NewInvalidationListener(refresher, invalidator)

	err := l.HandleIndexComplete(context.Background(), []byte("k"), []byte(`{"entities":["dataset"],"documents":3}`))
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 1, invalidator.calls)
}

func TestInvalidationListener_MalformedMessageDropped(t *testing.T) {
	refresher := &fakeRefresher{}
	l := NewInvalidationListener(refresher, nil)

	require.NoError(t, l.HandleIndexComplete(context.Background(), nil, []byte(`{`)))
	assert.Zero(t, refresher.calls)
}

func TestInvalidationListener_RefreshFailureSkipsInvalidation(t *testing.T) {
	refreshErr := errors.New("opensearch down")
	refresher := &fakeRefresher{err: refreshErr}
	invalidator := &fakeInvalidator{}
	l := NewInvalidationListener(refresher, invalidator)

	err := l.HandleIndexComplete(context.Background(), nil, []byte(`{}`))
	assert.ErrorIs(t, err, refreshErr)
	assert.Zero(t, invalidator.calls)
}
