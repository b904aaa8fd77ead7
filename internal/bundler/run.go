package bundler

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Outcome is the completion of one generation started by Run.
type Outcome struct {
	Result *Result
	Err    error
}

// Run rebuilds once per batch of changed paths received on changes until
// ctx is cancelled or changes is closed. A batch arriving while a
// generation is in flight cancels it; the cancelled generation's paths are
// carried into the next one. Completed generations are reported on report
// in generation order; cancelled ones are not reported.
func (b *Bundler) Run(ctx context.Context, changes <-chan []string, report func(Outcome)) error {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	stop := func() {
		if cancel != nil {
			cancel()
			<-done
			cancel = nil
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case batch, ok := <-changes:
			if !ok {
				if done != nil {
					<-done
				}
				return nil
			}
			if cancel != nil {
				log.Debug().Int("changed", len(batch)).Msg("Newer changes arrived, cancelling in-flight build")
			}
			stop()

			var genCtx context.Context
			genCtx, cancel = context.WithCancel(ctx)
			done = make(chan struct{})
			go func(ctx context.Context, batch []string, done chan struct{}) {
				defer close(done)
				res, err := b.Rebuild(ctx, batch)
				if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return
				}
				report(Outcome{Result: res, Err: err})
			}(genCtx, batch, done)
		}
	}
}
