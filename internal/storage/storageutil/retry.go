// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storageutil

import (
	"context"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/googlecloudplatform/gcswrite/internal/logger"
)

const (
	// Default retry parameters.
	DefaultRetryDeadline    = 30 * time.Second
	DefaultTotalRetryBudget = 5 * time.Minute
	DefaultInitialBackoff   = 1 * time.Second
	DefaultMaxRetrySleep    = 30 * time.Second
	DefaultRetryMultiplier  = 2.0
	DefaultMaxAttempts      = 6
)

// RetryingDependencies bounds how long and how often an operation may be
// attempted. Zero values mean "no limit".
type RetryingDependencies struct {
	// Maximum number of attempts, including the first one.
	MaxAttempts int
	// Time-limit on every individual attempt.
	RetryDeadline time.Duration
	// Total duration allowed across all the attempts.
	TotalRetryBudget time.Duration
	// Sleep waits between attempts. Defaults to gax.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// AttemptOnce allows a single attempt without any deadline.
func AttemptOnce() RetryingDependencies {
	return RetryingDependencies{MaxAttempts: 1}
}

// DefaultRetryingDependencies returns the dependencies used when the caller
// configures nothing.
func DefaultRetryingDependencies() RetryingDependencies {
	return RetryingDependencies{
		MaxAttempts:      DefaultMaxAttempts,
		RetryDeadline:    DefaultRetryDeadline,
		TotalRetryBudget: DefaultTotalRetryBudget,
	}
}

func (d RetryingDependencies) sleep(ctx context.Context, pause time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, pause)
	}
	return gax.Sleep(ctx, pause)
}

// RetryAlgorithm builds a fresh gax.Retryer for every retried operation. The
// retryer decides both whether an error is retryable and how long to wait.
type RetryAlgorithm func() gax.Retryer

type neverRetryer struct{}

func (neverRetryer) Retry(error) (time.Duration, bool) {
	return 0, false
}

// NeverRetry classifies every error as final.
func NeverRetry() RetryAlgorithm {
	return func() gax.Retryer { return neverRetryer{} }
}

// DefaultRetryAlgorithm retries the errors accepted by ShouldRetry with
// jittered exponential backoff.
func DefaultRetryAlgorithm(backoff gax.Backoff) RetryAlgorithm {
	return func() gax.Retryer {
		return gax.OnErrorFunc(backoff, ShouldRetry)
	}
}

// NewBackoff returns the gax backoff for the given parameters.
func NewBackoff(initial, maxBackoff time.Duration, multiplier float64) gax.Backoff {
	return gax.Backoff{
		Initial:    initial,
		Max:        maxBackoff,
		Multiplier: multiplier,
	}
}

// RetriesExhaustedError is returned when an operation kept failing with
// retryable errors until the attempt or time budget ran out.
type RetriesExhaustedError struct {
	Operation   string
	Description string
	Attempts    int
	// The last error returned by the operation.
	Err error
	// Non-nil when the time budget ran out.
	Cause error
}

func (e *RetriesExhaustedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s for %q failed after %d attempts (last server/client error = %v): %v", e.Operation, e.Description, e.Attempts, e.Err, e.Cause)
	}
	return fmt.Sprintf("%s for %q failed after %d attempts (last server/client error = %v)", e.Operation, e.Description, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// ExecuteWithRetry encapsulates the retry logic over a given operation.
// It performs time-bound retries for a given API call, asking alg whether and
// after which pause to retry each failure.
// It is expected that the given apiCall leaves no trace of a pending operation
// on the server when it fails, so that repeating it is safe.
func ExecuteWithRetry[T any](
	ctx context.Context,
	deps RetryingDependencies,
	alg RetryAlgorithm,
	operationName string,
	reqDescription string,
	apiCall func(attemptCtx context.Context) (T, error),
) (T, error) {
	var zero T
	// If the context is already cancelled, return immediately.
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	parentCtx := ctx
	if deps.TotalRetryBudget > 0 {
		var cancel context.CancelFunc
		parentCtx, cancel = context.WithTimeout(ctx, deps.TotalRetryBudget)
		defer cancel()
	}

	// Create a new retryer specific to this api call.
	retryer := alg()
	for attempt := 1; ; attempt++ {
		attemptCtx, attemptCancel := parentCtx, context.CancelFunc(func() {})
		if deps.RetryDeadline > 0 {
			attemptCtx, attemptCancel = context.WithTimeout(parentCtx, deps.RetryDeadline)
		}

		if attempt == 1 {
			logger.Tracef("Calling %s request for %q with deadline=%v", operationName, reqDescription, deps.RetryDeadline)
		} else {
			logger.Tracef("Retrying %s for %q (attempt %d) with deadline=%v ...", operationName, reqDescription, attempt, deps.RetryDeadline)
		}

		result, err := apiCall(attemptCtx)
		// Cancel attemptCtx after it is no longer needed, to free up its resources.
		attemptCancel()

		if err == nil {
			logger.Tracef("Success %s request for %q", operationName, reqDescription)
			return result, nil
		}

		pause, retryable := retryer.Retry(err)
		// If the error is not retryable, return it immediately.
		if !retryable {
			return zero, fmt.Errorf("%s for %q failed with a non-retryable error: %w", operationName, reqDescription, err)
		}

		if deps.MaxAttempts > 0 && attempt >= deps.MaxAttempts {
			return zero, &RetriesExhaustedError{Operation: operationName, Description: reqDescription, Attempts: attempt, Err: err}
		}

		// If the parent context is cancelled/timed-out, we should stop retrying.
		if parentCtx.Err() != nil {
			return zero, &RetriesExhaustedError{Operation: operationName, Description: reqDescription, Attempts: attempt, Err: err, Cause: parentCtx.Err()}
		}

		logger.Warnf("%s for %q failed with a retryable error, retrying in %v: %v", operationName, reqDescription, pause, err)
		if sleepErr := deps.sleep(parentCtx, pause); sleepErr != nil {
			return zero, &RetriesExhaustedError{Operation: operationName, Description: reqDescription, Attempts: attempt, Err: err, Cause: sleepErr}
		}
	}
}
