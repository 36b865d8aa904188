package live

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "InterviewLive-Go/1.0"

type apiClient struct {
	httpClient *http.Client
	headers    map[string]string
}

func newAPIClient(headers map[string]string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &apiClient{
		headers: headers,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
}

// postJSON sends body as JSON and decodes a 2xx response into out.
// Non-2xx responses become AUTH_FAILED with the status code attached.
func (ac *apiClient) postJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return WrapError(err, ErrCodeConfigInvalid, "encode credential request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return WrapError(err, ErrCodeConfigInvalid, "build credential request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range ac.headers {
		req.Header.Set(k, v)
	}

	resp, err := ac.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewTransportError(err)
	}

	if resp.StatusCode >= 400 {
		errMsg := string(bytes.TrimSpace(respBody))
		if errMsg == "" {
			errMsg = http.StatusText(resp.StatusCode)
		}
		return NewAuthError(fmt.Errorf("HTTP %d: %s", resp.StatusCode, errMsg)).AddDetail("status_code", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return NewAuthError(fmt.Errorf("decode credential response: %w", err))
	}
	return nil
}
