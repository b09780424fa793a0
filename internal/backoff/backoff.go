// Package backoff computes retry delays for outbound deliveries.
package backoff

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

type Policy string

const (
	Fixed          Policy = "fixed"
	Linear         Policy = "linear"
	Exponential    Policy = "exponential"
	ExpEqualJitter Policy = "exp_equal_jitter"
	ExpFullJitter  Policy = "exp_full_jitter"
)

// ParsePolicy maps a config value to a Policy; empty selects ExpEqualJitter.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ExpEqualJitter, nil
	case Fixed, Linear, Exponential, ExpEqualJitter, ExpFullJitter:
		return p, nil
	default:
		return "", fmt.Errorf("unknown backoff policy %q", s)
	}
}

// Schedule yields delays for successive failed attempts. Safe for concurrent use.
type Schedule struct {
	policy Policy
	base   time.Duration
	max    time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSchedule clamps base to at least 1ns and max to at least base.
func NewSchedule(policy Policy, base, max time.Duration, seed int64) *Schedule {
	if base <= 0 {
		base = time.Nanosecond
	}
	if max < base {
		max = base
	}
	return &Schedule{policy: policy, base: base, max: max, rng: rand.New(rand.NewSource(seed))}
}

func (s *Schedule) Policy() Policy { return s.policy }

// Delay returns the wait after the given 0-based failed attempt.
func (s *Schedule) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	switch s.policy {
	case Fixed:
		return s.base
	case Linear:
		return s.capped(s.base * time.Duration(attempt+1))
	case Exponential:
		return s.exp(attempt)
	case ExpFullJitter:
		return s.jitter(s.exp(attempt))
	default:
		d := s.exp(attempt)
		half := d / 2
		return half + s.jitter(d-half)
	}
}

func (s *Schedule) exp(attempt int) time.Duration {
	d := s.base
	for i := 0; i < attempt; i++ {
		if d >= s.max/2 {
			return s.max
		}
		d *= 2
	}
	return s.capped(d)
}

func (s *Schedule) capped(d time.Duration) time.Duration {
	if d <= 0 || d > s.max {
		return s.max
	}
	return d
}

// jitter returns a uniform duration in [0, d].
func (s *Schedule) jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.rng.Int63n(int64(d) + 1))
}
