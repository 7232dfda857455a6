// Package leader implements a route policy that only lets routes consume
// while this node holds a distributed lease.
//
// Every max(1, 2*ttl/3) seconds the policy either renews its lease or tries
// to take leadership by granting a new lease and writing ServicePath ->
// ServiceName only if the key is absent. Routes started while the node is
// not leader have their consumers stopped and are remembered; they are
// started again when leadership is gained. Losing leadership does not stop
// anything by itself.
package leader
