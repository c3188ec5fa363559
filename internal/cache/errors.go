package cache

import "errors"

// ErrRateLimited is returned by GetOrGenerate when generation is both
// required and currently blocked by the rate limiter, and no stale cache
// entry exists to fall back to.
var ErrRateLimited = errors.New("cache: generation rate limited")
