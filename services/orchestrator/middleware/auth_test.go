// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(router *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer ABC123", "ABC123"},
		{"trims", "Bearer   tok  ", "tok"},
		{"missing", "", ""},
		{"no bearer prefix", "abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"only bearer", "Bearer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// AdminAuth Tests
// =============================================================================

func adminRouter(token string, sawAdmin *bool) *gin.Engine {
	r := gin.New()
	r.DELETE("/db/drop", AdminAuth(token), func(c *gin.Context) {
		*sawAdmin = IsAdmin(c)
		c.Status(http.StatusOK)
	})
	return r
}

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"correct token", "s3cret", "Bearer s3cret", http.StatusOK},
		{"wrong token", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"prefix of token", "s3cret", "Bearer s3c", http.StatusUnauthorized},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"admin disabled", "", "Bearer anything", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := map[string]string{}
			if tt.header != "" {
				h["Authorization"] = tt.header
			}
			var sawAdmin bool
			w := serve(adminRouter(tt.token, &sawAdmin), http.MethodDelete, "/db/drop", h)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.want == http.StatusOK, sawAdmin)
		})
	}
}

// =============================================================================
// RateLimit Tests
// =============================================================================

func TestIPRateLimiter_PerClientBuckets(t *testing.T) {
	l := NewIPRateLimiter(1, 2)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst spent")
	assert.True(t, l.Allow("10.0.0.2"), "other clients have their own bucket")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "one token refilled")
}

func TestIPRateLimiter_EvictsIdleClients(t *testing.T) {
	l := NewIPRateLimiter(1, 1)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.Len())

	now = now.Add(limiterIdleTTL + time.Minute)
	l.Allow("c")
	assert.Equal(t, 1, l.Len())
}

func TestRateLimit_Rejects(t *testing.T) {
	r := gin.New()
	r.GET("/query", RateLimit(NewIPRateLimiter(0.5, 1)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(r, "GET", "/query", nil).Code)
	w := serve(r, "GET", "/query", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestRateLimit_Disabled(t *testing.T) {
	r := gin.New()
	r.GET("/query", RateLimit(NewIPRateLimiter(0, 1)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(r, "GET", "/query", nil).Code)
	}
}

// =============================================================================
// CORS Tests
// =============================================================================

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "http://client.test", "*"},
		{"empty allows all", nil, "http://client.test", "*"},
		{"listed origin", []string{"http://localhost:3000/"}, "http://localhost:3000", "http://localhost:3000"},
		{"unlisted origin", []string{"http://localhost:3000"}, "http://evil.test", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.origins))
			r.GET("/topics", func(c *gin.Context) { c.Status(http.StatusOK) })
			w := serve(r, "GET", "/topics", map[string]string{"Origin": tt.origin})
			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
