// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Admin Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AdminAuth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► Constant-time compare with the configured admin token
//	   │
//	   └─► c.Next() or 401
//
// When no admin token is configured, admin routes are closed to everyone
// rather than open.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// adminKey marks a request that passed AdminAuth.
const adminKey = "celervus_admin"

// IsAdmin reports whether the request passed AdminAuth.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(adminKey)
}

// AdminAuth guards destructive routes with a static bearer token.
//
// # Description
//
// Compares the bearer token with token in constant time. An empty token
// rejects every request with 403, so a server started without one never
// exposes admin routes.
//
// # Inputs
//
//   - token: The configured admin token.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware for the admin route group.
//
// # Examples
//
//	db.DELETE("/drop", middleware.AdminAuth(cfg.AdminToken), handlers.DropEntries(store))
//
// # Thread Safety
//
// Thread-safe.
func AdminAuth(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin operations are disabled",
			})
			return
		}
		got := extractBearerToken(c)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			slog.Warn("Rejected admin request", "path", c.FullPath(), "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		c.Set(adminKey, true)
		c.Next()
	}
}

// extractBearerToken extracts the token from the Authorization header.
//
// # Description
//
// Parses "Bearer <token>". The scheme is case-insensitive per RFC 7235.
// Returns the empty string if the header is missing or malformed.
//
// # Examples
//
//	// Header: "Authorization: bearer ABC123"
//	token := extractBearerToken(c)
//	// token == "ABC123"
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
