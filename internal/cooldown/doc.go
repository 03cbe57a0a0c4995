// Package cooldown implements fixed-window request throttling keyed by an
// arbitrary key.
//
// A Limiter admits at most Limit operations per key within a Window. The
// window for a key opens on the first attempt and closes Window later; every
// attempt inside it counts, and once the count passes Limit further attempts
// are denied until the window closes. Denials report how long the caller has
// to wait and when the window resets.
//
// Counters live in a Store. MemoryStore keeps them in process; RedisStore
// shares them between processes through Redis.
//
//	store := cooldown.NewMemoryStore()
//	limiter, err := cooldown.New("global", 25, 10*time.Second, store)
//	if err != nil {
//		return err
//	}
//
//	decision, err := limiter.Admit(ctx, cooldown.Key("ip", addr))
//	if err != nil {
//		return err
//	}
//	if !decision.Allowed {
//		return decision.Err()
//	}
package cooldown
