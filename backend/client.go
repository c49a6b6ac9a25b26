// Package backend is the thin HTTP client for the untrusted relay. It
// performs no cryptographic validation: every payload it returns is
// re-validated by the caller, malformed or failed responses degrade to
// empty results, and the polling loops upstream are the retry mechanism.
package backend

import (
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const requestTimeout = 5 * time.Second

// Client holds the relay location and the shared HTTP client for one task.
type Client struct {
	taskID  string
	baseURL string
	http    *http.Client
}

// NewClient builds a relay client for taskID against baseURL.
func NewClient(taskID, baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("relay base URL not configured")
	}
	return &Client{
		taskID:  taskID,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}
