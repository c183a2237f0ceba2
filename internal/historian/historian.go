// internal/historian/historian.go
package historian

import (
	"context"
	"time"

	"github.com/jason-s-yu/skirmish/internal/cache"
	"github.com/sirupsen/logrus"
)

// Source yields queued action records. A nil record with a nil error means the
// wait elapsed with nothing queued.
type Source interface {
	NextAction(ctx context.Context, wait time.Duration) (*cache.ActionRecord, error)
}

// Sink persists one batch atomically.
type Sink interface {
	InsertActions(ctx context.Context, batch []cache.ActionRecord) error
}

// Service drains the action queue into the durable store in batches. The batch
// is owned by the Run goroutine; nothing else touches it.
//
// MaxPending caps records held back by failing flushes, dropping the oldest
// beyond it. RetryDelay is the pause after a source error and ShutdownTimeout
// bounds the final flush.
type Service struct {
	src  Source
	sink Sink
	log  logrus.FieldLogger

	BatchSize       int
	FlushInterval   time.Duration
	PopWait         time.Duration
	MaxPending      int
	RetryDelay      time.Duration
	ShutdownTimeout time.Duration
	Now             func() time.Time

	batch     []cache.ActionRecord
	lastFlush time.Time
}

func New(src Source, sink Sink, log logrus.FieldLogger, batchSize int, flushInterval time.Duration) *Service {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Service{
		src:             src,
		sink:            sink,
		log:             log,
		BatchSize:       batchSize,
		FlushInterval:   flushInterval,
		PopWait:         time.Second,
		MaxPending:      batchSize * 50,
		RetryDelay:      time.Second,
		ShutdownTimeout: 5 * time.Second,
		Now:             time.Now,
	}
}

// Run pops records until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) error {
	s.lastFlush = s.Now()
	s.log.WithField("batch", s.BatchSize).Info("historian started")

	for ctx.Err() == nil {
		rec, err := s.src.NextAction(ctx, s.PopWait)
		switch {
		case err != nil && ctx.Err() == nil:
			s.log.WithError(err).Error("failed to pop action record")
			select {
			case <-ctx.Done():
			case <-time.After(s.RetryDelay):
			}
		case rec != nil:
			s.batch = append(s.batch, *rec)
		}

		if len(s.batch) >= s.BatchSize || (len(s.batch) > 0 && s.Now().Sub(s.lastFlush) >= s.FlushInterval) {
			s.flush(ctx)
		}
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	s.flush(flushCtx)
	s.log.WithField("pending", len(s.batch)).Info("historian stopped")
	return nil
}

// flush writes the batch in one transaction. On failure the records stay
// queued for the next attempt.
func (s *Service) flush(ctx context.Context) {
	s.lastFlush = s.Now()
	if len(s.batch) == 0 {
		return
	}
	if err := s.sink.InsertActions(ctx, s.batch); err != nil {
		s.log.WithError(err).WithField("pending", len(s.batch)).Error("failed to flush action batch")
		if over := len(s.batch) - s.MaxPending; s.MaxPending > 0 && over > 0 {
			s.log.WithField("dropped", over).Error("dropping oldest action records")
			s.batch = append(s.batch[:0], s.batch[over:]...)
		}
		return
	}
	s.log.WithField("count", len(s.batch)).Debug("flushed action batch")
	s.batch = s.batch[:0]
}
