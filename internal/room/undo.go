package room

import (
	"context"

	"github.com/sirupsen/logrus"
)

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// undoStack holds compensating writes for a multi-step durable mutation. They
// run in reverse order; failures are logged and do not stop the unwind.
type undoStack []undoStep

func (u *undoStack) push(name string, fn func(ctx context.Context) error) {
	*u = append(*u, undoStep{name: name, fn: fn})
}

func (u undoStack) run(ctx context.Context, log logrus.FieldLogger) {
	for i := len(u) - 1; i >= 0; i-- {
		if err := u[i].fn(ctx); err != nil {
			log.WithError(err).WithField("step", u[i].name).Error("compensation failed")
		}
	}
}
