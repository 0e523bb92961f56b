// Package redis implements store.Store on Redis with go-redis.
//
// Jobs are Hashes. Each queue is a Sorted Set of job IDs scored by run time
// in Unix milliseconds, so a claim only sees members scored at or before
// now. A claim is won by the caller whose ZREM removes the member, which
// keeps a job with a single consumer across processes. Dead letters are
// Hashes indexed by a Sorted Set scored by failure time, and credentials
// are JSON strings keyed by account.
//
// The caller owns the client:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
