package qdrantdb

import (
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Client wraps the qdrant gRPC client for one collection.
type Client struct {
	Client      *qdrant.Client
	collection  string
	upsertBatch int
}

func NewClient(host string, port int, collection string) (*Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port, // gRPC port
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return &Client{Client: client, collection: collection, upsertBatch: defaultUpsertBatch}, nil
}

// SetUpsertBatchSize overrides how many points go into one upsert
// request. Values below one keep the default.
func (c *Client) SetUpsertBatchSize(n int) {
	if n > 0 {
		c.upsertBatch = n
	}
}

func (c *Client) UpsertBatchSize() int {
	return c.upsertBatch
}

func (c *Client) Collection() string {
	return c.collection
}

func (c *Client) Close() error {
	return c.Client.Close()
}
