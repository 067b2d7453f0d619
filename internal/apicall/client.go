// Package apicall makes authenticated JSON calls to the application's own HTTP API.
package apicall

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"firestorm/internal/types"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

const DefaultTimeout = 15 * time.Second

// TokenSource yields the current user's bearer token, "" when signed out.
type TokenSource interface {
	IDToken(ctx context.Context) (string, error)
}

type Client struct {
	baseURL      string
	functionsURL string
	tokens       TokenSource
	http         *http.Client
}

func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// Call sends body as JSON to path with the current user's bearer token and decodes the JSON
// response. It never fails: every problem is logged and yields an empty document.
func (c *Client) Call(ctx context.Context, path, method string, body any) types.Document {
	if c.baseURL == "" {
		log.Error("Cannot make API calls without a base URL")
		return types.Document{}
	}
	if method == "" {
		method = http.MethodGet
	}
	token, err := c.tokens.IDToken(ctx)
	if err != nil || token == "" {
		log.WithError(err).Warn("No API token set")
		return types.Document{}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			log.WithError(err).Error("Giving up on sending API request")
			return types.Document{}
		}
		reader = bytes.NewReader(b)
	}

	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		log.WithError(err).Error("Giving up on sending API request")
		return types.Document{}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	log.WithFields(log.Fields{"url": url, "method": method}).Debug("Making API call")
	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).WithField("url", url).Error("Giving up on sending API request")
		return types.Document{}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	log.WithFields(log.Fields{"status": resp.StatusCode, "url": url}).Debug("API response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithFields(log.Fields{"status": resp.StatusCode, "url": url}).
			Error("Giving up on sending API request")
		return types.Document{}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return types.Document{}
	}
	var out types.Document
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		log.WithError(err).WithField("url", url).Error("API response is not a JSON object")
		return types.Document{}
	}
	return out
}
