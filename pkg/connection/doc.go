// Package connection supervises the relay connection.
//
// When the connection is lost, the Manager retries with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Doubling: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds, repeated until success
//  4. Reset to 1s after a successful reconnection
//
// Each delay gets up to 25% random jitter so clients that lost the relay at
// the same moment do not return in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
