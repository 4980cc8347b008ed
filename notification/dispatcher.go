package notification

import (
	"context"
	"log/slog"
)

// Emitter hands one intent to the delivery subsystem. Implementations must
// tolerate being called for the same logical event only once; retries are
// the collaborator's concern.
type Emitter interface {
	Emit(ctx context.Context, intent Intent) error
}

// StoreEmitter persists intents to the notifications table, the boundary
// between the engine and actual delivery (push, email, socket).
type StoreEmitter struct {
	repo *Repository
}

func NewStoreEmitter(repo *Repository) *StoreEmitter {
	return &StoreEmitter{repo: repo}
}

func (e *StoreEmitter) Emit(ctx context.Context, intent Intent) error {
	_, err := e.repo.Insert(ctx, intent)
	return err
}

// Dispatcher consumes the intents a committed transition produced. It runs
// strictly after commit, so a rolled-back transition never notifies anyone.
// Individual emit failures are logged and skipped rather than failing the
// already-committed transition.
type Dispatcher struct {
	emitter Emitter
	logger  *slog.Logger
}

func NewDispatcher(emitter Emitter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{emitter: emitter, logger: logger}
}

// Dispatch emits every intent in order.
func (d *Dispatcher) Dispatch(ctx context.Context, intents []Intent) {
	for _, intent := range intents {
		if err := d.emitter.Emit(ctx, intent); err != nil {
			d.logger.Warn("notification emit failed",
				"user_id", intent.UserID,
				"type", intent.Type,
				"contract_id", intent.ContractID,
				"error", err,
			)
		}
	}
}
