package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
)

// ESPublisher indexes events into a security audit index.
type ESPublisher struct {
	client  *elasticsearch.Client
	index   string
	timeout time.Duration
}

func NewESClient(url, user, password string) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
		Username:  user,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: new client: %w", err)
	}
	return client, nil
}

func NewESPublisher(client *elasticsearch.Client, index string) *ESPublisher {
	return &ESPublisher{client: client, index: index, timeout: writeTimeout}
}

func (p *ESPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("elasticsearch: marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.client.Index(
		p.index,
		bytes.NewReader(body),
		p.client.Index.WithDocumentID(e.ID),
		p.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch: index %s: %w", e.Type, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch: index %s: %s: %s", e.Type, res.Status(), msg)
	}
	return nil
}

func (p *ESPublisher) Close() error { return nil }
