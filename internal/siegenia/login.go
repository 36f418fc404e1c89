package siegenia

import (
	"context"
	"fmt"
	"time"
)

// LoginUser authenticates with user credentials.
//
// A failed attempt (error or non-ok status) is retried with exponential
// backoff, min(base*2^n, max), until MaxRetries retries have been spent;
// the final failure wraps ErrLoginFailed around the last cause. LoginUser
// does not reconnect by itself: while the transport is down each attempt
// fails fast with ErrNotConnected and the wait continues. Disconnect
// aborts the wait.
func (c *Client) LoginUser(ctx context.Context, user, password string) (*Response, error) {
	stop, err := c.currentSessionStop()
	if err != nil {
		return nil, err
	}

	longLife := false
	req := Request{
		Command:  CommandLogin,
		User:     user,
		Password: password,
		LongLife: &longLife,
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, req)
		if err == nil {
			err = resp.Err()
		}
		if err == nil {
			c.logInfo("logged in", "user", user, "attempts", attempt+1)
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoginFailed, ctxErr)
		}
		lastErr = err

		if attempt >= c.opts.MaxRetries {
			break
		}

		delay := ExponentialBackoff(attempt, c.opts.RetryBaseInterval, c.opts.RetryMaxInterval)
		c.loginRetries.Add(1)
		c.logWarn("login failed, retrying",
			"error", err,
			"retry", attempt+1,
			"delay", delay.String(),
		)
		if err := c.retryWait(ctx, delay, stop); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
		}
	}

	c.logError("login failed after maximum retries", lastErr)
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrLoginFailed, c.opts.MaxRetries+1, lastErr)
}

// LoginToken authenticates with a previously issued session token.
// It is a single request without retries.
func (c *Client) LoginToken(ctx context.Context, token string) (*Response, error) {
	return c.send(ctx, Request{Command: CommandLogin, Token: token})
}

// currentSessionStop returns the channel closed by the next Disconnect.
func (c *Client) currentSessionStop() (<-chan struct{}, error) {
	var stop <-chan struct{}
	if err := c.call(func() { stop = c.sessionStop }); err != nil {
		return nil, err
	}
	return stop, nil
}

// waitRetry sleeps for d unless ctx ends, the session is disconnected or
// the client is closed.
func (c *Client) waitRetry(ctx context.Context, d time.Duration, stop <-chan struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrConnectionClosed
	case <-c.done.Done():
		return ErrClientClosed
	}
}
