// Package fetch walks a list of items one at a time, calling an external
// service per item with a fixed pause between calls. Failures are collected
// per item and never abort the batch; cancellation stops it between items.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/rankpulse/errors"
)

// DefaultDelay is the pause between consecutive calls.
const DefaultDelay = 500 * time.Millisecond

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Pacing controls the pause between items. A zero Pacing does not pause.
type Pacing struct {
	Delay time.Duration
	Sleep SleepFunc // nil uses a timer
}

// Every returns a Pacing that pauses d between calls.
func Every(d time.Duration) Pacing {
	return Pacing{Delay: d}
}

// Item is a successful result, tagged with the index of its input.
type Item[R any] struct {
	Index int
	Value R
}

// Batch is the outcome of All. Results and Errors are keyed by input index;
// Results keeps input order.
type Batch[R any] struct {
	Results   []Item[R]
	Errors    map[int]error
	Processed int
	Total     int
	Cancelled bool
}

// Failed reports how many items returned an error.
func (b *Batch[R]) Failed() int { return len(b.Errors) }

// AllFailed reports whether at least one item was attempted and none
// succeeded.
func (b *Batch[R]) AllFailed() bool {
	return b.Processed > 0 && len(b.Results) == 0
}

// FirstError returns the error of the lowest failing index, or nil.
func (b *Batch[R]) FirstError() error {
	first := -1
	for i := range b.Errors {
		if first == -1 || i < first {
			first = i
		}
	}
	if first == -1 {
		return nil
	}
	return b.Errors[first]
}

// All calls call for each item in order, pausing between calls. onProgress
// (optional) runs after every item, successful or not, with the count so
// far. There is no pause after the last item. A panic in call is recorded as
// that item's error.
//
// When ctx is done All stops before the next item and sets Cancelled; items
// not reached count as neither processed nor failed.
func All[T, R any](ctx context.Context, items []T, call func(context.Context, T) (R, error), pacing Pacing, onProgress func(processed, total int)) *Batch[R] {
	batch := &Batch[R]{
		Results: make([]Item[R], 0, len(items)),
		Errors:  make(map[int]error),
		Total:   len(items),
	}
	sleep := pacing.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	for i, item := range items {
		if ctx.Err() != nil {
			batch.Cancelled = true
			return batch
		}

		value, err := safeCall(ctx, call, item)
		if err != nil {
			batch.Errors[i] = errors.WithDetailf(err, "Item index: %d", i)
		} else {
			batch.Results = append(batch.Results, Item[R]{Index: i, Value: value})
		}
		batch.Processed++

		if onProgress != nil {
			onProgress(batch.Processed, batch.Total)
		}

		if i < len(items)-1 && pacing.Delay > 0 {
			if err := sleep(ctx, pacing.Delay); err != nil {
				batch.Cancelled = true
				return batch
			}
		}
	}

	if ctx.Err() != nil {
		batch.Cancelled = true
	}
	return batch
}

func safeCall[T, R any](ctx context.Context, call func(context.Context, T) (R, error), item T) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %s", fmt.Sprint(r))
		}
	}()
	return call(ctx, item)
}

func timerSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
