// Package lease talks to the distributed key-value service used for
// leader election.
//
// Client exposes the four operations leadership needs: lease grant,
// single keep-alive, revoke and a put that only succeeds while the key is
// absent. NewEtcdClient speaks to etcd; NewMemoryClient shares a process
// local MemoryStore between clients and is used for single-node runs and
// tests.
package lease
