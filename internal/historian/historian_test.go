package historian

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/skirmish/internal/cache"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueSource serves records pushed onto a channel, like BLPOP on a list.
type queueSource struct {
	ch   chan cache.ActionRecord
	errs chan error
}

func newQueueSource() *queueSource {
	return &queueSource{ch: make(chan cache.ActionRecord, 100), errs: make(chan error, 10)}
}

func (q *queueSource) NextAction(ctx context.Context, wait time.Duration) (*cache.ActionRecord, error) {
	select {
	case err := <-q.errs:
		return nil, err
	default:
	}
	select {
	case rec := <-q.ch:
		return &rec, nil
	case <-time.After(wait):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]cache.ActionRecord
	fail    int
}

func (s *recordingSink) InsertActions(_ context.Context, batch []cache.ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("db down")
	}
	s.batches = append(s.batches, append([]cache.ActionRecord(nil), batch...))
	return nil
}

func (s *recordingSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, len(b))
	}
	return out
}

func (s *recordingSink) total() int {
	n := 0
	for _, size := range s.sizes() {
		n += size
	}
	return n
}

func record(i int) cache.ActionRecord {
	return cache.ActionRecord{RoomID: "R1", ActionIndex: i, ActorUserID: "u1", ActionType: "end_turn"}
}

func start(t *testing.T, svc *Service) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("historian did not stop")
		}
	}
}

func newService(src Source, sink Sink, batch int, flush time.Duration) (*Service, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	svc := New(src, sink, logger, batch, flush)
	svc.PopWait = 5 * time.Millisecond
	svc.RetryDelay = 5 * time.Millisecond
	return svc, hook
}

func TestFlushesFullBatches(t *testing.T) {
	src := newQueueSource()
	sink := &recordingSink{}
	svc, _ := newService(src, sink, 2, time.Hour)
	for i := 1; i <= 5; i++ {
		src.ch <- record(i)
	}

	stop := start(t, svc)
	assert.Eventually(t, func() bool { return sink.total() == 4 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []int{2, 2, 1}, sink.sizes())
}

func TestFlushesOnInterval(t *testing.T) {
	src := newQueueSource()
	sink := &recordingSink{}
	svc, _ := newService(src, sink, 100, 20*time.Millisecond)

	stop := start(t, svc)
	defer stop()
	src.ch <- record(1)
	assert.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRetriesFailedFlush(t *testing.T) {
	src := newQueueSource()
	sink := &recordingSink{fail: 2}
	svc, hook := newService(src, sink, 1, time.Millisecond)

	stop := start(t, svc)
	src.ch <- record(1)
	assert.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
	stop()

	var failures int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
	assert.Equal(t, []int{1}, sink.sizes())
}

func TestDropsOldestBeyondMaxPending(t *testing.T) {
	sink := &recordingSink{fail: 1}
	svc, _ := newService(newQueueSource(), sink, 1, time.Hour)
	svc.MaxPending = 2
	svc.batch = []cache.ActionRecord{record(1), record(2), record(3)}

	svc.flush(context.Background())
	require.Len(t, svc.batch, 2)
	assert.Equal(t, 2, svc.batch[0].ActionIndex)

	svc.flush(context.Background())
	assert.Empty(t, svc.batch)
	assert.Equal(t, []int{2}, sink.sizes())
}

func TestSurvivesSourceErrors(t *testing.T) {
	src := newQueueSource()
	sink := &recordingSink{}
	svc, hook := newService(src, sink, 1, time.Hour)
	src.errs <- errors.New("connection reset")

	stop := start(t, svc)
	src.ch <- record(1)
	assert.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
	stop()

	require.NotEmpty(t, hook.AllEntries())
	var sawPopError bool
	for _, e := range hook.AllEntries() {
		if e.Message == "failed to pop action record" {
			sawPopError = true
		}
	}
	assert.True(t, sawPopError)
}
