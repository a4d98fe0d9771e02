package ledgersync

import (
	"context"

	"meshledger/net/crpc"
	"meshledger/swarm/protocol"
)

type Client struct {
	*crpc.Client
}

func Dial(ctx context.Context, address string) (*Client, error) {
	c, err := crpc.Dial(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &Client{Client: c}, nil
}

func (c *Client) ChainSync(ctx context.Context, req *protocol.ChainSyncRequest) (*protocol.ChainSyncResponse, error) {
	res := &protocol.ChainSyncResponse{}
	if err := c.Call(ctx, "Ledger.ChainSync", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) ChainGet(ctx context.Context, req *protocol.ChainGetRequest) (*protocol.ChainGetResponse, error) {
	res := &protocol.ChainGetResponse{}
	if err := c.Call(ctx, "Ledger.ChainGet", req, res); err != nil {
		return nil, err
	}
	return res, nil
}
