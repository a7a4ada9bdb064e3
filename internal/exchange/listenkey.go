// listenkey.go manages the user-data stream listen key:
// create (POST), keep-alive (PUT), destroy (DELETE).
//
// A listen key is valid for 60 minutes and must be refreshed periodically.
// Creation is retried with backoff because the stream cannot start without
// one; a failed keep-alive, like a listenKeyExpired event, makes the stream
// drop its connection and reconnect with a fresh key.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const listenKeyPath = "/fapi/v1/listenKey"

// createListenKeyAttempts bounds startup retries before giving up.
const createListenKeyAttempts = 5

// CreateListenKey obtains a fresh listen key, retrying with exponential
// backoff (500ms doubling, capped at 5s) up to createListenKeyAttempts times.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	backoff := 500 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= createListenKeyAttempts; attempt++ {
		key, err := c.postListenKey(ctx)
		if err == nil {
			return key, nil
		}
		lastErr = err
		c.logger.Warn("listen key creation failed",
			"attempt", attempt, "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
	return "", fmt.Errorf("create listen key: %w", lastErr)
}

func (c *Client) postListenKey(ctx context.Context) (string, error) {
	var result struct {
		ListenKey string `json:"listenKey"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.signer.APIKey()).
		SetResult(&result).
		Post(listenKeyPath)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.ListenKey == "" {
		return "", fmt.Errorf("empty listen key in response")
	}
	return result.ListenKey, nil
}

// KeepAliveListenKey extends the key's validity.
func (c *Client) KeepAliveListenKey(ctx context.Context, key string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.signer.APIKey()).
		SetQueryParam("listenKey", key).
		Put(listenKeyPath)
	if err != nil {
		return fmt.Errorf("keep-alive listen key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("keep-alive listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CloseListenKey destroys the key on shutdown.
func (c *Client) CloseListenKey(ctx context.Context, key string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.signer.APIKey()).
		SetQueryParam("listenKey", key).
		Delete(listenKeyPath)
	if err != nil {
		return fmt.Errorf("close listen key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("close listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
