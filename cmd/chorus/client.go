package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/provider/sse"
	"github.com/rhuss/chorus/pkg/workspace"
)

// client talks to the chorus HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimSuffix(base, "/"), http: http.DefaultClient}
}

// streamRound submits query as a streaming round and calls fn for every
// event until the round ends.
func (c *client) streamRound(ctx context.Context, query string, fn func(api.RoundEvent) error) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/rounds", api.CreateRoundRequest{Query: query, Stream: true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return sse.Scan(ctx, resp.Body, func(ev sse.Event) error {
		if ev.Data == "[DONE]" {
			return sse.ErrStop
		}
		var event api.RoundEvent
		if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
			return fmt.Errorf("decoding %s event: %w", ev.Name, err)
		}
		return fn(event)
	})
}

// createRound submits query and waits for the round record.
func (c *client) createRound(ctx context.Context, query string) (*api.RoundRecord, error) {
	var rec api.RoundRecord
	if err := c.call(ctx, http.MethodPost, "/v1/rounds", api.CreateRoundRequest{Query: query}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *client) targets(ctx context.Context) ([]api.Target, error) {
	var list struct {
		Data []api.Target `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/targets", nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (c *client) addTarget(ctx context.Context, t api.Target) (*api.Target, error) {
	var out api.Target
	if err := c.call(ctx, http.MethodPost, "/v1/targets", t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) updateTarget(ctx context.Context, id string, patch workspace.Patch) (*api.Target, error) {
	var out api.Target
	if err := c.call(ctx, http.MethodPatch, "/v1/targets/"+id, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) removeTarget(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/v1/targets/"+id, nil, nil)
}

func (c *client) putKey(ctx context.Context, providerID, key string) error {
	return c.call(ctx, http.MethodPut, "/v1/credentials/"+providerID, map[string]string{"api_key": key}, nil)
}

func (c *client) deleteKey(ctx context.Context, providerID string) error {
	return c.call(ctx, http.MethodDelete, "/v1/credentials/"+providerID, nil, nil)
}

// call performs a JSON request and decodes the response into out when out
// is non-nil.
func (c *client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// do sends the request and turns error responses into *api.APIError.
func (c *client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting %s: %w", c.base, err)
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == nil {
		return nil, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil, errResp.Error
}
