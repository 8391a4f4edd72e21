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

package ratelimit

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// ChooseLimiterCapacity returns a burst size that keeps the rate of events
// allowed by a token bucket within a few percent of rateHz * window, for any
// window of the given size.
func ChooseLimiterCapacity(rateHz float64, window time.Duration) (int, error) {
	if rateHz <= 0 || math.IsInf(rateHz, 0) || math.IsNaN(rateHz) {
		return 0, fmt.Errorf("Illegal rate: %f", rateHz)
	}
	if window <= 0 {
		return 0, fmt.Errorf("Illegal window: %v", window)
	}

	// A bucket of capacity C <= W*R/N exceeds the rate by at most a factor of
	// (N+1)/N in any window W.
	const N = 50

	w := float64(window) / float64(time.Second)
	capacity := math.Floor(w * rateHz / N)
	if !(capacity >= 1 && capacity <= math.MaxInt32) {
		return 0, fmt.Errorf(
			"Can't use a token bucket to limit to %f Hz over a window of %v (result is a capacity of %f)",
			rateHz, window, capacity)
	}
	return int(capacity), nil
}

// NewLimiter returns a limiter allowing bytesPerSec bytes per second,
// measured over window.
func NewLimiter(bytesPerSec float64, window time.Duration) (*rate.Limiter, error) {
	burst, err := ChooseLimiterCapacity(bytesPerSec, window)
	if err != nil {
		return nil, err
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst), nil
}
