// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("LLM backend temporarily unavailable")

// BreakerConfig configures the circuit breaker around an LLM backend.
type BreakerConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxRequests allowed through while half-open.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval after which closed-state counts reset.
	Interval time.Duration `yaml:"interval"`

	// Timeout before an open breaker moves to half-open.
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the failure ratio that trips the breaker once
	// MinRequests have been seen.
	FailureThreshold float64 `yaml:"failure_threshold"`
	MinRequests      uint32  `yaml:"min_requests"`
}

// DefaultBreakerConfig returns the settings used when none are given.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.MaxRequests == 0 {
		c.MaxRequests = d.MaxRequests
	}
	if c.Interval == 0 {
		c.Interval = d.Interval
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.MinRequests == 0 {
		c.MinRequests = d.MinRequests
	}
	return c
}

// BreakerClient sheds calls to a failing backend.
//
// # Description
//
// Generate and Stream run inside a gobreaker.CircuitBreaker. Caller
// cancellation is not counted as a backend failure. A stream that fails
// after delivering tokens still counts, since the backend broke mid-answer.
//
// # Thread Safety
//
// Safe for concurrent use.
type BreakerClient struct {
	next LLMClient
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps next.
func NewBreakerClient(next LLMClient, cfg BreakerConfig) *BreakerClient {
	cfg = cfg.withDefaults()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("LLM circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerClient{next: next, cb: cb}
}

// State returns the breaker state, e.g. "closed" or "open".
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}

// Generate calls the wrapped client through the breaker.
func (b *BreakerClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Generate(ctx, prompt, params)
	})
	if err != nil {
		return "", mapBreakerError(err)
	}
	return out.(string), nil
}

// Stream calls the wrapped client through the breaker.
func (b *BreakerClient) Stream(ctx context.Context, prompt string, params GenerationParams, onToken StreamCallback) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Stream(ctx, prompt, params, onToken)
	})
	return mapBreakerError(err)
}

func mapBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

var _ LLMClient = (*BreakerClient)(nil)
