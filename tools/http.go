package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/m4xw311/egoist/errors"
)

const HTTPToolName = "http"

type HTTPRequest struct {
	RequestType string            `json:"request_type" jsonschema:"enum=GET,enum=POST" jsonschema_description:"HTTP request type"`
	URL         string            `json:"url" jsonschema_description:"URL for the HTTP request"`
	Payload     any               `json:"payload,omitempty" jsonschema_description:"Optional JSON payload for a POST request"`
	Headers     map[string]string `json:"headers,omitempty" jsonschema_description:"Optional headers for the request"`
}

type HTTPInput struct {
	Requests []HTTPRequest `json:"requests" jsonschema_description:"Requests to issue concurrently"`
}

type httpTool struct {
	client *http.Client
}

// NewHTTPTool creates the http tool. A nil client uses http.DefaultClient.
func NewHTTPTool(client *http.Client) (Tool, error) {
	if client == nil {
		client = http.DefaultClient
	}
	t := &httpTool{client: client}
	return NewTool(HTTPToolName,
		"Get the HTTP responses of a list of GET or POST requests. Returns a JSON list of response bodies in request order.",
		t.execute)
}

func (t *httpTool) execute(ctx context.Context, in HTTPInput) (string, error) {
	bodies := make([]string, len(in.Requests))

	g, ctx := errgroup.WithContext(ctx)
	for i, req := range in.Requests {
		g.Go(func() error {
			body, err := t.do(ctx, req)
			if err != nil {
				return errors.Wrapf(err, "%s %s", req.RequestType, req.URL)
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	data, err := json.Marshal(bodies)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode responses")
	}
	return string(data), nil
}

func (t *httpTool) do(ctx context.Context, r HTTPRequest) (string, error) {
	var body io.Reader
	switch r.RequestType {
	case http.MethodGet:
	case http.MethodPost:
		if r.Payload != nil {
			data, err := json.Marshal(r.Payload)
			if err != nil {
				return "", err
			}
			body = bytes.NewReader(data)
		}
	default:
		return "", fmt.Errorf("unsupported request type '%s'", r.RequestType)
	}

	req, err := http.NewRequestWithContext(ctx, r.RequestType, r.URL, body)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
