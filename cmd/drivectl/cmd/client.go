package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fruitsalade/drivecms/pkg/protocol"
)

// client talks to the DriveCMS HTTP API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

// apiError is a non-2xx response.
type apiError struct {
	Status int
	Resp   protocol.ErrorResponse
}

func (e *apiError) Error() string {
	if e.Resp.Kind != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Resp.Kind, e.Resp.Error)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Resp.Error)
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := strings.TrimRight(c.baseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	hc := c.http
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.Resp); err != nil {
			apiErr.Resp.Error = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// routePath turns a route key into an escaped path suffix.
func routePath(key string) string {
	key = strings.Trim(key, "/")
	if key == "" {
		return "/"
	}
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/" + strings.Join(parts, "/")
}
