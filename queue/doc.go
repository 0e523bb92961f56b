// Package queue provides per-queue and per-account rate limiting and
// concurrency caps for the worker pool.
//
// Jobs carry a Queue and an Account. Polling many remote tasks for one
// account shares that account's API quota, so limits can be set on either
// axis:
//
//	m := queue.NewManager(
//	    queue.Config{Name: "default", MaxConcurrency: 20},
//	    queue.Config{Name: "reports", RateLimit: 5, RateBurst: 10},
//	)
//	m.SetAccountConfig(queue.AccountConfig{Account: "acct-1", RateLimit: 1})
//
// The pool calls [Manager.Acquire] after dequeuing a job and
// [Manager.Release] after it finishes. A rejected job goes back to the
// queue with a short delay and does not count as a delivery.
//
// Limits use a token-bucket rate limiter (golang.org/x/time/rate) and an
// active-count gate. Queues and accounts without configuration have no
// limits beyond the pool-wide concurrency.
package queue
