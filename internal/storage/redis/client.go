package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chatcore/internal/model"
	"github.com/redis/go-redis/v9"
)

const reportKeyPrefix = "migration:report:"

// Client хранит отчёты о последних запусках миграций (ключ migration:report:{job}, без TTL).
type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SaveReport перезаписывает отчёт по job целиком.
func (c *Client) SaveReport(ctx context.Context, r *model.MigrationReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis SaveReport marshal: %w", err)
	}
	if err := c.cli.Set(ctx, reportKeyPrefix+r.Job, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SaveReport: %w", err)
	}
	return nil
}

func (c *Client) LastReport(ctx context.Context, job string) (*model.MigrationReport, error) {
	data, err := c.cli.Get(ctx, reportKeyPrefix+job).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis LastReport: %w", err)
	}
	var r model.MigrationReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("redis LastReport unmarshal: %w", err)
	}
	return &r, nil
}

// DeleteReport удаляет отчёт (для тестов и ручного сброса).
func (c *Client) DeleteReport(ctx context.Context, job string) error {
	return c.cli.Del(ctx, reportKeyPrefix+job).Err()
}
