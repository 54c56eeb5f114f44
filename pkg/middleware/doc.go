// Package middleware provides request throttling for the portal.
//
// # Overview
//
// Sign-in attempts are limited per client address so password guessing
// against the backend login endpoint is slowed down. Two limiters share the
// Limiter interface:
//
// RateLimiter: in-process token bucket
//
//	limiter := middleware.NewRateLimiter(middleware.LoginRateLimitConfig(), clock.New())
//	limiter.StartCleanup(ctx)
//
// DistributedRateLimiter: Redis fixed window, shared by every replica
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "rl:ratelimit:login")
//
// Either is wrapped around a handler with RateLimitMiddleware:
//
//	throttle := middleware.NewRateLimitMiddleware(limiter, middleware.KeyByClientIP("login"), logger)
//	router.Handle("/login", throttle.Handler(loginHandler)).Methods("POST")
//
// Limiter errors fail open: the request is served and the error logged.
package middleware
