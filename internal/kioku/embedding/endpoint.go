package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bdobrica/Kioku/common/retry"
	"github.com/bdobrica/Kioku/common/version"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	maxErrorBodyExcerpt = 512
)

// endpoint is the JSON-over-HTTP plumbing shared by the remote encoders.
type endpoint struct {
	name   string // error prefix
	client *http.Client
	token  string // bearer token, optional
}

func newEndpoint(name string, timeout time.Duration, token string) endpoint {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return endpoint{name: name, client: &http.Client{Timeout: timeout}, token: token}
}

func (e endpoint) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%s: create http request: %w", e.name, err))
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	return req, nil
}

// post sends in as JSON and returns the status code and the full body.
// Transport failures are returned as retryable errors.
func (e endpoint) post(ctx context.Context, url string, in any) (int, []byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, nil, retry.Permanent(fmt.Errorf("%s: marshal request: %w", e.name, err))
	}
	req, err := e.newRequest(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: http request: %w", e.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s: read response body: %w", e.name, err)
	}
	return resp.StatusCode, body, nil
}

// fail builds the error for a non-2xx answer. Client errors other than 408
// and 429 are permanent.
func (e endpoint) fail(status int, detail string) error {
	err := fmt.Errorf("%s: HTTP %d: %s", e.name, status, detail)
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return retry.Permanent(err)
	}
	return err
}

func (e endpoint) malformed(format string, args ...any) error {
	return retry.Permanent(fmt.Errorf(e.name+": "+format, args...))
}

func excerpt(b []byte) string {
	if len(b) > maxErrorBodyExcerpt {
		return string(b[:maxErrorBodyExcerpt]) + "..."
	}
	return string(b)
}
