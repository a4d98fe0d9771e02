package timer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"

	log "github.com/sirupsen/logrus"
)

var ErrInvalidInterval = errors.New("timer: invalid interval")

type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

func (i *Interval) Validate() error {
	if i.Duration <= 0 {
		return fmt.Errorf("%w: duration %v", ErrInvalidInterval, i.Duration)
	}
	if i.Jitter < 0 || i.Jitter >= i.Duration {
		return fmt.Errorf("%w: jitter %v must be below duration %v", ErrInvalidInterval, i.Jitter, i.Duration)
	}
	return nil
}

// uniformJitter spreads ticks uniformly over [d-MaxJitter, d+MaxJitter).
type uniformJitter struct {
	mu        sync.Mutex
	rng       *rand.Rand
	maxJitter time.Duration
}

func (j *uniformJitter) Jitter(d time.Duration) time.Duration {
	if j.maxJitter == 0 {
		return d
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return d + time.Duration(j.rng.Int63n(int64(2*j.maxJitter))) - j.maxJitter
}

// RunWithTicker runs f periodically. Exits when ctx is cancelled or when f returns an error.
func RunWithTicker(ctx context.Context, interval *Interval, f func(ctx context.Context) error) error {
	return RunWithTickerRand(ctx, interval, rand.New(rand.NewSource(time.Now().UnixNano())), f)
}

// RunWithTickerRand is RunWithTicker with the jitter source supplied by the caller.
func RunWithTickerRand(ctx context.Context, interval *Interval, rng *rand.Rand, f func(ctx context.Context) error) error {
	if err := interval.Validate(); err != nil {
		return err
	}
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	j := jitterbug.New(interval.Duration, &uniformJitter{rng: rng, maxJitter: interval.Jitter})
	defer j.Stop()

	log.Debugf("RunWithTicker: running %s every %v (jitter %v)", funcName, interval.Duration, interval.Jitter)

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithTicker: context cancelled for %s", funcName)
			return ctx.Err()
		case <-j.C:
			if err := f(ctx); err != nil {
				log.Errorf("RunWithTicker: %s returned error: %v", funcName, err)
				return err
			}
		}
	}
}
