// Package handlers provides health checks and middleware for the
// gamification HTTP API.
//
// # Health Checks
//
// Checks run in parallel with a per-check timeout:
//
//	checker := handlers.NewCompositeHealthChecker("v1")
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddCheck("redis", handlers.NewPingCheck(cache))
//
// # Middleware
//
// The server installs, in order: Recovery, RequestID, AccessLog,
// SecurityHeaders and an optional per-IP RateLimit (fortify token buckets,
// one per client IP). Admin routes add
// AdminToken(token, true); public routes use AdminToken(token, false) so
// handlers can ask IsAdmin for feature flag evaluation.
package handlers
