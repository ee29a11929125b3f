// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package remote

import (
	"log/slog"
	"time"

	"github.com/gogpu/drawingarea/runloop"
)

// Default flush delays.
const (
	DefaultFlushDelay                 = 0
	DefaultInitialThrottledFlushDelay = 500 * time.Millisecond
	DefaultThrottledFlushDelay        = 1500 * time.Millisecond
)

// Config tunes a remote drawing area.
type Config struct {
	// FlushDelay is how long a flush request waits when throttling is off.
	FlushDelay time.Duration

	// InitialThrottledFlushDelay is the delay of the first flush after
	// throttling turns on.
	InitialThrottledFlushDelay time.Duration

	// ThrottledFlushDelay is the delay of later throttled flushes.
	ThrottledFlushDelay time.Duration

	// CommitQueue overrides Parameters.CommitQueue.
	CommitQueue runloop.Loop

	// Logger overrides the package logger for this area.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		FlushDelay:                 DefaultFlushDelay,
		InitialThrottledFlushDelay: DefaultInitialThrottledFlushDelay,
		ThrottledFlushDelay:        DefaultThrottledFlushDelay,
	}
}

// Option configures a remote drawing area.
type Option func(*Config)

// WithFlushDelay sets the unthrottled flush delay.
func WithFlushDelay(d time.Duration) Option {
	return func(c *Config) {
		c.FlushDelay = d
	}
}

// WithThrottledFlushDelays sets the initial and steady throttled delays.
func WithThrottledFlushDelays(initial, steady time.Duration) Option {
	return func(c *Config) {
		c.InitialThrottledFlushDelay = initial
		c.ThrottledFlushDelay = steady
	}
}

// WithCommitQueue runs pixel transfers on q.
func WithCommitQueue(q runloop.Loop) Option {
	return func(c *Config) {
		c.CommitQueue = q
	}
}

// WithLogger sets the logger used by the area.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
