package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/nextchapter/internal/domain"
)

// Mode selects which target a timeline breakdown is measured against.
type Mode string

const (
	ModeCountdown Mode = "countdown"
	ModeTogether  Mode = "together"
)

// ParseMode validates a mode name. The empty string means countdown.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", ModeCountdown:
		return ModeCountdown, nil
	case ModeTogether:
		return ModeTogether, nil
	}
	return "", fmt.Errorf("unknown timeline mode %q: %w", raw, domain.ErrInvalidInput)
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Timeline computes the two breakdowns shown on the landing pages.
type Timeline struct {
	clock     domain.Clock
	loc       *time.Location
	countdown time.Time
	together  time.Time
	interval  time.Duration
	newTicker func(time.Duration) Ticker
}

// TimelineConfig holds configuration for creating a Timeline.
type TimelineConfig struct {
	Clock     domain.Clock
	Location  *time.Location
	Countdown time.Time // Target counted down to, then up from
	Together  time.Time // Day the relationship began

	// NewTicker overrides the tick source. Defaults to time.NewTicker
	// at domain.TickInterval.
	NewTicker func(time.Duration) Ticker
}

// NewTimeline creates a Timeline.
func NewTimeline(cfg TimelineConfig) *Timeline {
	newTicker := cfg.NewTicker
	if newTicker == nil {
		newTicker = newRealTicker
	}
	return &Timeline{
		clock:     cfg.Clock,
		loc:       cfg.Location,
		countdown: cfg.Countdown,
		together:  cfg.Together,
		interval:  domain.TickInterval,
		newTicker: newTicker,
	}
}

// Location returns the zone breakdowns are computed in.
func (t *Timeline) Location() *time.Location { return t.loc }

// Countdown returns the breakdown against the countdown target.
func (t *Timeline) Countdown() domain.TimeBreakdown {
	return domain.Compute(t.clock.Now(), t.countdown, t.loc)
}

// Together returns the time elapsed since the relationship began.
func (t *Timeline) Together() domain.TimeBreakdown {
	return domain.Compute(t.clock.Now(), t.together, t.loc)
}

// At returns the breakdown for mode at an arbitrary reference instant.
func (t *Timeline) At(mode Mode, reference time.Time) domain.TimeBreakdown {
	if mode == ModeTogether {
		return domain.Compute(reference, t.together, t.loc)
	}
	return domain.Compute(reference, t.countdown, t.loc)
}

// Now returns the current breakdown for mode.
func (t *Timeline) Now(mode Mode) domain.TimeBreakdown {
	return t.At(mode, t.clock.Now())
}

// Run publishes the breakdown for mode immediately and then once per tick
// until ctx is cancelled or publish fails. Cancellation returns nil.
func (t *Timeline) Run(ctx context.Context, mode Mode, publish func(domain.TimeBreakdown) error) error {
	attrs := metric.WithAttributes(attribute.String("mode", string(mode)))

	if err := publish(t.Now(mode)); err != nil {
		return err
	}
	countdownTicksTotal.Add(ctx, 1, attrs)

	ticker := t.newTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := publish(t.Now(mode)); err != nil {
				return err
			}
			countdownTicksTotal.Add(ctx, 1, attrs)
		}
	}
}
