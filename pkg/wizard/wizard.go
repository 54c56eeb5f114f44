// Package wizard keeps the profile wizard step pointer and tour completion
// flags in the tab-scoped store.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/realleaders/portal/pkg/kvstore"
	"github.com/realleaders/portal/pkg/observability"
)

const (
	// KeyStep holds the current step
	KeyStep = "profile_wizard_step"
	// TourKeyPrefix prefixes tour completion flags
	TourKeyPrefix = "tour_completed:"

	// DefaultSteps is the length of the onboarding wizard
	DefaultSteps = 6
)

// ErrInvalidTour is returned for an empty tour name
var ErrInvalidTour = errors.New("wizard: invalid tour name")

// Wizard is the step pointer of one tab
type Wizard struct {
	kv     *kvstore.Store
	steps  int
	logger *observability.Logger
}

// New creates a wizard with steps pages. steps below 1 uses DefaultSteps.
func New(kv *kvstore.Store, steps int, logger *observability.Logger) *Wizard {
	if steps < 1 {
		steps = DefaultSteps
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Wizard{kv: kv, steps: steps, logger: logger.WithField("component", "wizard")}
}

// Steps returns the number of steps
func (w *Wizard) Steps() int {
	return w.steps
}

// Step returns the current step. A missing, unparsable or out-of-range value
// reads as 1 and is written back.
func (w *Wizard) Step(ctx context.Context) (int, error) {
	raw, err := w.kv.Get(ctx, KeyStep)
	if errors.Is(err, kvstore.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 1, fmt.Errorf("failed to read wizard step: %w", err)
	}

	step, err := strconv.Atoi(strings.TrimSpace(raw))
	if err == nil && step >= 1 && step <= w.steps {
		return step, nil
	}

	w.logger.WithField("stored", raw).Warn("Resetting invalid wizard step")
	if err := w.write(ctx, 1); err != nil {
		return 1, err
	}
	return 1, nil
}

// SetStep stores step clamped to [1, Steps] and returns the stored value
func (w *Wizard) SetStep(ctx context.Context, step int) (int, error) {
	step = w.clamp(step)
	if err := w.write(ctx, step); err != nil {
		return 0, err
	}
	return step, nil
}

// Next advances one step, stopping at the last
func (w *Wizard) Next(ctx context.Context) (int, error) {
	return w.move(ctx, 1)
}

// Back goes back one step, stopping at the first
func (w *Wizard) Back(ctx context.Context) (int, error) {
	return w.move(ctx, -1)
}

// Reset returns to step 1
func (w *Wizard) Reset(ctx context.Context) error {
	return w.write(ctx, 1)
}

func (w *Wizard) move(ctx context.Context, delta int) (int, error) {
	step, err := w.Step(ctx)
	if err != nil {
		return 0, err
	}
	return w.SetStep(ctx, step+delta)
}

func (w *Wizard) clamp(step int) int {
	if step < 1 {
		return 1
	}
	if step > w.steps {
		return w.steps
	}
	return step
}

func (w *Wizard) write(ctx context.Context, step int) error {
	if err := w.kv.Set(ctx, KeyStep, strconv.Itoa(step)); err != nil {
		return fmt.Errorf("failed to store wizard step: %w", err)
	}
	return nil
}

// CompleteTour marks the named product tour as seen in this tab
func (w *Wizard) CompleteTour(ctx context.Context, name string) error {
	key, err := tourKey(name)
	if err != nil {
		return err
	}
	if err := w.kv.Set(ctx, key, "true"); err != nil {
		return fmt.Errorf("failed to store tour flag: %w", err)
	}
	return nil
}

// TourCompleted reports whether the named tour was marked as seen
func (w *Wizard) TourCompleted(ctx context.Context, name string) (bool, error) {
	key, err := tourKey(name)
	if err != nil {
		return false, err
	}
	raw, err := w.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read tour flag: %w", err)
	}
	return raw == "true", nil
}

func tourKey(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidTour
	}
	return TourKeyPrefix + name, nil
}
