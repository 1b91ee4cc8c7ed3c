package http

import (
	"context"

	"github.com/cockroachdb/errors"

	"ticket-engine/internal/domain"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// runSerializable runs fn in one serializable transaction, retrying once
// after a serialization abort. The retry reads fresh state, so losing a race
// over the last units resolves to insufficient inventory instead of a
// spurious conflict.
func runSerializable(ctx context.Context, runner txRunner, fn func(ctx context.Context) error) error {
	err := runner.WithTx(ctx, fn)
	if errors.Is(err, domain.ErrSerializationFailure) {
		err = runner.WithTx(ctx, fn)
	}
	return err
}
