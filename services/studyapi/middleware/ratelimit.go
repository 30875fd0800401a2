// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

// UserLimiter keeps one token bucket per caller key.
//
// # Description
//
// Buckets are created on first use and evicted after idleTTL without a
// request, so the map stays bounded by the number of active callers.
//
// # Thread Safety
//
// Safe for concurrent use.
type UserLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserLimiter allows perSecond requests per caller with the given burst.
func NewUserLimiter(perSecond float64, burst int) *UserLimiter {
	return &UserLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether key may make a request now.
func (l *UserLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Sweep drops buckets idle for longer than the idle TTL and returns how
// many were removed.
func (l *UserLimiter) Sweep() int {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (l *UserLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit rejects requests over the caller's budget with 429.
//
// # Description
//
// The caller is the client IP as resolved by gin, which only honors
// forwarding headers from the router's trusted proxies. Client-supplied
// identity headers are never used. Each rejection is counted per route. A sweep of idle buckets runs
// every 1024 requests.
//
// # Inputs
//
//   - l: Limiter shared by the routes it guards. Must not be nil.
//   - m: Metrics. May be nil.
func RateLimit(l *UserLimiter, m *observability.Metrics) gin.HandlerFunc {
	var (
		countMu sync.Mutex
		count   int
	)
	return func(c *gin.Context) {
		countMu.Lock()
		count++
		sweep := count%1024 == 0
		countMu.Unlock()
		if sweep {
			l.Sweep()
		}

		if !l.Allow(callerKey(c)) {
			m.RecordRateLimited(c.FullPath())
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
				Error: "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func callerKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}
