// Package lane provides per-key mutual exclusion for conversation turns.
//
// Invariants:
// - At most one holder per lane; waiters are admitted in arrival order.
// - Different lanes never block each other.
// - Waiting honours context cancellation and never leaves a lane acquired.
// - Lane records are dropped once no holder or waiter remains.
//
// Usage:
//
//	locker := lane.New(lane.Config{Logger: logger})
//	release, err := locker.Acquire(ctx, conversationID)
//	if err != nil {
//		return err
//	}
//	defer release()
package lane
