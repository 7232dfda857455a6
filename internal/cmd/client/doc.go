// Package client provides the commands of the `conduit` CLI that do not
// start a server.
//
// # Repository inspection
//
// The repo commands open the store under --data-dir directly, so they must
// not run against a directory a live server holds open:
//
//	conduit repo keys   --data-dir ./data --repository orders
//	conduit repo get    --data-dir ./data --repository orders --key o-1
//	conduit repo add    --data-dir ./data --repository orders --key o-1 --body '{"sku":"a"}' --header tenant=acme
//	conduit repo remove --data-dir ./data --repository orders --key o-1
//
// repo add prints the snapshot it replaced, or null.
//
// # Worker names
//
//	conduit pattern --pattern 'Worker ${counter} - ${name}' --name orders --count 2
//
// # Health
//
// health queries grpc.health.v1 on --grpc (default CONDUIT_GRPC or
// 127.0.0.1:9090) and fails unless the service is SERVING:
//
//	conduit health --service conduit.Leader
package client
