package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// EtcdClient implements Client on an etcd v3 cluster.
type EtcdClient struct {
	cli *clientv3.Client
}

// NewEtcdClient dials endpoints.
func NewEtcdClient(endpoints []string, dialTimeout time.Duration) (*EtcdClient, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("lease: no etcd endpoints")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		DialOptions: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		Logger:      zap.NewNop(),
	})
	if err != nil {
		return nil, fmt.Errorf("lease: dial etcd %v: %w", endpoints, err)
	}
	return &EtcdClient{cli: cli}, nil
}

// WrapEtcd uses an existing etcd client. Close will close it.
func WrapEtcd(cli *clientv3.Client) *EtcdClient { return &EtcdClient{cli: cli} }

func (c *EtcdClient) Grant(ctx context.Context, ttl time.Duration) (ID, error) {
	resp, err := c.cli.Grant(ctx, ttlSeconds(ttl))
	if err != nil {
		return NoLease, err
	}
	return ID(resp.ID), nil
}

func (c *EtcdClient) KeepAliveOnce(ctx context.Context, id ID) error {
	_, err := c.cli.KeepAliveOnce(ctx, clientv3.LeaseID(id))
	if errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return ErrLeaseNotFound
	}
	return err
}

func (c *EtcdClient) Revoke(ctx context.Context, id ID) error {
	_, err := c.cli.Revoke(ctx, clientv3.LeaseID(id))
	if errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return nil
	}
	return err
}

func (c *EtcdClient) PutIfAbsent(ctx context.Context, key, value string, id ID) (bool, error) {
	resp, err := c.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(key), "=", 0)).
		Then(clientv3.OpPut(key, value, clientv3.WithLease(clientv3.LeaseID(id)))).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (c *EtcdClient) Close() error { return c.cli.Close() }
