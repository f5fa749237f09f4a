package client

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"kanban-board/domain"
)

// Subscribe follows the server's change stream for collection and calls
// onChange once per event. The first connection is established before
// Subscribe returns; later disconnects are retried until the returned
// function is called.
func (c *Client) Subscribe(ctx context.Context, collection string, onChange func()) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := c.openStream(ctx, collection)
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			err := readEvents(resp, onChange)
			resp.Body.Close()
			if ctx.Err() != nil {
				return
			}
			c.Logger.WithError(err).WithField("collection", collection).Warn("change stream closed, reconnecting")
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.Reconnect):
				}
				resp, err = c.openStream(ctx, collection)
				if err == nil {
					// Changes may have been missed while disconnected.
					onChange()
					break
				}
				if ctx.Err() != nil {
					return
				}
				c.Logger.WithError(err).Warn("change stream reconnect failed")
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (c *Client) openStream(ctx context.Context, collection string) (*http.Response, error) {
	path := "/stream"
	if collection != "" {
		path += "?collection=" + url.QueryEscape(collection)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.Stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp.StatusCode, nil)
	}
	return resp, nil
}

// readEvents dispatches one callback per "data:" line until the body ends.
func readEvents(resp *http.Response, onChange func()) error {
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "data:") {
			onChange()
		}
	}
	return sc.Err()
}
