package apicall

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"firestorm/internal/types"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

type functionRequest struct {
	Data any `json:"data"`
}

type functionError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type functionResponse struct {
	Result any            `json:"result"`
	Error  *functionError `json:"error,omitempty"`
}

// WithFunctionsURL sets the base URL remote functions are served under. Invoke falls back to
// the API base URL when unset.
func (c *Client) WithFunctionsURL(u string) *Client {
	c.functionsURL = strings.TrimRight(u, "/")
	return c
}

// Invoke calls the remote function fn with data and returns its result. Unlike Call, every
// failure is logged and returned, wrapped in ErrRemote. The bearer token is attached when a
// user is signed in.
func (c *Client) Invoke(ctx context.Context, fn string, data any) (any, error) {
	base := c.functionsURL
	if base == "" {
		base = c.baseURL
	}
	if base == "" {
		return nil, types.Err(types.ErrConfiguration, nil, "no functions URL set for %s", fn)
	}
	if fn == "" {
		return nil, types.Err(types.ErrConfiguration, nil, "function name is required")
	}
	fields := log.Fields{"function": fn}

	result, err := c.invoke(ctx, base+"/"+fn, data)
	if err != nil {
		log.WithError(err).WithFields(fields).Warn("Error calling function")
		return nil, err
	}
	return result, nil
}

func (c *Client) invoke(ctx context.Context, url string, data any) (any, error) {
	b, err := json.Marshal(functionRequest{Data: data})
	if err != nil {
		return nil, types.Err(types.ErrConfiguration, err, "function payload is not serializable")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, types.Err(types.ErrConfiguration, err, "")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	token, err := c.tokens.IDToken(ctx)
	if err != nil {
		return nil, types.Err(types.ErrAuth, err, "")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.Err(types.ErrRemote, err, "")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, types.Err(types.ErrRemote, err, "")
	}

	var out functionResponse
	decodeErr := json.Unmarshal(raw, &out)
	if out.Error != nil {
		return nil, types.Err(types.ErrRemote, nil, "%s: %s", out.Error.Status, out.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, types.Err(types.ErrRemote, nil, "status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, types.Err(types.ErrRemote, decodeErr, "function response is not JSON")
	}
	return out.Result, nil
}
