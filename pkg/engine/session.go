package engine

import (
	"context"

	"github.com/rubiojr/shopsense/pkg/model"
)

// Run evaluates samples on a single worker until ctx is cancelled or the
// stream closes. The worker is fed through a one-slot mailbox: a sample
// arriving while an evaluation is in flight replaces any sample still
// waiting, so at most one evaluation runs and at most one waits.
func (e *Engine) Run(ctx context.Context, samples <-chan model.LocationSample) error {
	slot := make(chan model.LocationSample, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for s := range slot {
			if ctx.Err() != nil {
				return
			}
			if _, err := e.Evaluate(ctx, s); err != nil && ctx.Err() == nil {
				log.Error("evaluation failed", "err", err)
			}
		}
	}()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		case s, ok := <-samples:
			if !ok {
				break loop
			}
			e.offer(slot, s)
		}
	}
	close(slot)
	<-done
	return err
}

// offer puts s in the slot, evicting the waiting sample if there is one.
// Run is the only sender.
func (e *Engine) offer(slot chan model.LocationSample, s model.LocationSample) {
	select {
	case slot <- s:
		return
	default:
	}
	select {
	case <-slot:
		e.metrics.DroppedSamples.Inc()
	default:
	}
	slot <- s
}
