// Package middleware provides HTTP middleware for the kiosk control API.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing for remote control panels
//   - RateLimit: Per-IP token bucket rate limiting with idle client eviction
//   - APIKey: Optional bcrypt-checked API key
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
//	router.Use(middleware.APIKey(cfg.Server.APIKeyHash, logger))
package middleware
