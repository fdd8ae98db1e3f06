package scanner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"proximity-service/internal/errs"
	"proximity-service/internal/models"
)

// Key identifies one ongoing alert condition. Counterpart is zero for
// conditions about the subject alone (boundary, speed, time).
type Key struct {
	Subject     int
	Counterpart int
	Type        models.AlertType
}

func (k Key) String() string {
	if k.Counterpart == 0 {
		return fmt.Sprintf("%d|self|%s", k.Subject, k.Type)
	}
	return fmt.Sprintf("%d|%d|%s", k.Subject, k.Counterpart, k.Type)
}

// Condition is the last fired state for a Key.
type Condition struct {
	Level   models.Level
	Outside bool
}

// Dedupe tracks the last fired Condition per Key. All mutation goes through
// a single-slot lock acquired with a bounded wait.
type Dedupe struct {
	lock    chan struct{}
	state   map[Key]Condition
	timeout time.Duration
	active  atomic.Int64
}

// NewDedupe creates a Dedupe whose lock waits at most timeout.
func NewDedupe(timeout time.Duration) *Dedupe {
	return &Dedupe{
		lock:    make(chan struct{}, 1),
		state:   make(map[Key]Condition),
		timeout: timeout,
	}
}

func (d *Dedupe) acquire(ctx context.Context) error {
	select {
	case d.lock <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case d.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return errs.New(errs.KindTimeout, "scanner.dedupe", "lock not acquired within %s", d.timeout)
	case <-ctx.Done():
		return errs.Wrap(errs.KindTimeout, "scanner.dedupe", ctx.Err())
	}
}

func (d *Dedupe) release() {
	d.active.Store(int64(len(d.state)))
	<-d.lock
}

// Transition moves key to next and reports whether that is a new alert.
// A nil next clears the key so a later crossing fires again.
func (d *Dedupe) Transition(ctx context.Context, key Key, next *Condition) (bool, error) {
	if err := d.acquire(ctx); err != nil {
		return false, err
	}
	defer d.release()

	prev, had := d.state[key]
	if next == nil {
		delete(d.state, key)
		return false, nil
	}
	if had && prev == *next {
		return false, nil
	}
	d.state[key] = *next
	return true, nil
}

// Retain drops every key for which keep returns false.
func (d *Dedupe) Retain(ctx context.Context, keep func(Key) bool) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	for k := range d.state {
		if !keep(k) {
			delete(d.state, k)
		}
	}
	return nil
}

// Current returns the stored Condition for key.
func (d *Dedupe) Current(ctx context.Context, key Key) (Condition, bool, error) {
	if err := d.acquire(ctx); err != nil {
		return Condition{}, false, err
	}
	defer d.release()
	c, ok := d.state[key]
	return c, ok, nil
}

// Active is the number of conditions currently held. It is read without the lock.
func (d *Dedupe) Active() int {
	return int(d.active.Load())
}
