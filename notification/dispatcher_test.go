package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeEmitter struct {
	emitted []Intent
	failOn  string
}

func (f *fakeEmitter) Emit(ctx context.Context, intent Intent) error {
	if intent.UserID == f.failOn {
		return errors.New("smtp down")
	}
	f.emitted = append(f.emitted, intent)
	return nil
}

func TestDispatcher_EmitsAllInOrder(t *testing.T) {
	emitter := &fakeEmitter{}
	d := NewDispatcher(emitter, slog.New(slog.NewTextHandler(io.Discard, nil)))

	intents := []Intent{
		{UserID: "u1", Type: TypeApprovalRequested},
		{UserID: "u2", Type: TypeApprovalRequested},
	}
	d.Dispatch(context.Background(), intents)

	assert.Equal(t, intents, emitter.emitted)
}

func TestDispatcher_ContinuesPastEmitFailure(t *testing.T) {
	emitter := &fakeEmitter{failOn: "u2"}
	d := NewDispatcher(emitter, slog.New(slog.NewTextHandler(io.Discard, nil)))

	d.Dispatch(context.Background(), []Intent{
		{UserID: "u1", Type: TypeContractRejected},
		{UserID: "u2", Type: TypeContractRejected},
		{UserID: "u3", Type: TypeContractRejected},
	})

	// u2 fails, u1 and u3 still go out.
	assert.Len(t, emitter.emitted, 2)
	assert.Equal(t, "u1", emitter.emitted[0].UserID)
	assert.Equal(t, "u3", emitter.emitted[1].UserID)
}
