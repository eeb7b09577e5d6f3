package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultRESTPaths are the fallback endpoints, tried in this order.
var DefaultRESTPaths = []string{"/api/project-chat", "/api/chat/project"}

// maxResponseSize caps how much of a fallback response is read.
const maxResponseSize = 1 << 20

// RESTStrategy posts the message to baseURL+path. A 2xx answer is a success;
// its "message" object, when it carries an _id, is the authoritative copy.
func RESTStrategy(httpClient *http.Client, baseURL, path, token string) Strategy {
	url := strings.TrimRight(baseURL, "/") + path
	return Strategy{
		Name: "POST " + path,
		Send: func(ctx context.Context, msg OutgoingMessage) (Result, error) {
			body, err := json.Marshal(msg)
			if err != nil {
				return Result{}, err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return Result{}, err
			}
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}

			resp, err := httpClient.Do(req)
			if err != nil {
				return Result{}, err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
			if err != nil {
				return Result{}, err
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				reason := gjson.GetBytes(data, "error").String()
				if reason == "" {
					reason = http.StatusText(resp.StatusCode)
				}
				return Result{}, fmt.Errorf("status %d: %s", resp.StatusCode, reason)
			}

			res := Result{}
			if raw := gjson.GetBytes(data, "message"); raw.IsObject() {
				if m, err := ParseAuthoritative([]byte(raw.Raw)); err == nil {
					res.Message = &m
				}
			}
			return res, nil
		},
	}
}

// RESTStrategies builds one strategy per path, in order.
func RESTStrategies(httpClient *http.Client, baseURL, token string, paths ...string) []Strategy {
	if len(paths) == 0 {
		paths = DefaultRESTPaths
	}
	strategies := make([]Strategy, 0, len(paths))
	for _, p := range paths {
		strategies = append(strategies, RESTStrategy(httpClient, baseURL, p, token))
	}
	return strategies
}
