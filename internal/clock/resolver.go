// Package clock resolves the wall-clock date and time of day for a reading.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeUnavailable is returned when a bounded resolver runs out of attempts.
var ErrTimeUnavailable = errors.New("time unavailable")

var errEmptyTimestamp = errors.New("time source returned an empty timestamp")

type RetryOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// EscalateAfter consecutive failures produce an error-level diagnostic.
	EscalateAfter int
	// MaxAttempts of 0 retries forever.
	MaxAttempts int
}

type Resolver struct {
	source Source
	retry  RetryOptions
	logger *slog.Logger
}

func NewResolver(source Source, retry RetryOptions, logger *slog.Logger) *Resolver {
	if retry.EscalateAfter < 1 {
		retry.EscalateAfter = 1
	}
	return &Resolver{source: source, retry: retry, logger: logger}
}

// Resolve blocks until the source yields a timestamp and returns its date and
// time-of-day parts. It only fails when ctx is done or MaxAttempts is reached.
func (r *Resolver) Resolve(ctx context.Context) (string, string, error) {
	var formatted string
	attempt := 0

	op := func() error {
		attempt++
		var err error
		if attempt == 1 {
			err = r.source.Update()
		} else {
			err = r.source.ForceUpdate()
		}
		if err == nil {
			formatted = r.source.FormattedDate()
			if formatted == "" {
				err = errEmptyTimestamp
			}
		}
		if err != nil {
			r.report(attempt, err)
		}
		return err
	}

	if err := backoff.Retry(op, r.policy(ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", ctxErr
		}
		return "", "", fmt.Errorf("%w after %d attempts: %v", ErrTimeUnavailable, attempt, err)
	}

	if attempt > 1 {
		r.logger.Info("time resolved after retries", "attempts", attempt)
	}
	date, timeOfDay := SplitTimestamp(formatted)
	return date, timeOfDay, nil
}

func (r *Resolver) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.retry.InitialInterval
	eb.MaxInterval = r.retry.MaxInterval
	eb.MaxElapsedTime = 0
	eb.Reset()

	var b backoff.BackOff = eb
	if r.retry.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(r.retry.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

func (r *Resolver) report(attempt int, err error) {
	switch {
	case attempt%r.retry.EscalateAfter == 0:
		r.logger.Error("time source still failing", "attempts", attempt, "err", err)
	case attempt == 1:
		r.logger.Warn("time update failed, forcing refresh", "err", err)
	default:
		r.logger.Debug("forced refresh failed", "attempt", attempt, "err", err)
	}
}

// SplitTimestamp splits "2024-05-06T14:30:00Z" into "2024-05-06" and
// "14:30:00". The input is not validated: without a 'T' the date is the whole
// string and the time is the string minus its last character.
func SplitTimestamp(formatted string) (string, string) {
	if formatted == "" {
		return "", ""
	}
	end := len(formatted) - 1
	split := strings.Index(formatted, "T")
	if split < 0 {
		return formatted, formatted[:end]
	}
	if split+1 > end {
		return formatted[:split], ""
	}
	return formatted[:split], formatted[split+1 : end]
}
