// Package jtp makes JSON-over-HTTP calls and serves JSON handlers with typed
// request and response bodies.
package jtp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

var client = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	},
}

// errorBodyLimit bounds how much of an error response is kept as the error message.
const errorBodyLimit = 512

// Request represents a HTTP call to a server, and contains the types being sent and received.
type Request[S any, R any] struct {
	Ctx     context.Context
	Method  string
	URL     string
	Headers http.Header
	Send    *S
	Recv    *R
}

// Call sends a JSON object and receives a JSON response.
func Call[S any, R any](ctx context.Context, method string, uri string, s *S, r *R) error {
	request := Request[S, R]{
		Ctx:    ctx,
		Method: method,
		URL:    uri,
		Send:   s,
		Recv:   r,
	}

	return DoRequest(&request)
}

func DoRequest[S any, R any](r *Request[S, R]) error {
	var reader io.Reader = http.NoBody

	if r.Send != nil {
		js, err := json.Marshal(r.Send)
		if err != nil {
			return fmt.Errorf("unable to marshal json: %w", err)
		}

		reader = bytes.NewReader(js)
	}

	ctx := r.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, reader)
	if err != nil {
		return err
	}

	if reader != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	for k, v := range r.Headers {
		for _, val := range v {
			req.Header.Add(k, val)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		httpErr := &HTTPError{StatusCode: resp.StatusCode}
		if msg := strings.TrimSpace(string(body)); msg != "" && msg != http.StatusText(resp.StatusCode) {
			httpErr.Err = errors.New(msg)
		}
		return httpErr
	}

	if r.Recv == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unable to read response body: %w", err)
	}

	if err = json.Unmarshal(body, r.Recv); err != nil {
		return fmt.Errorf("unable to unmarshal response: %w", err)
	}

	return nil
}
