package ports

import "net/http"

// HTTPClient is the subset of *http.Client the webhook adapter calls.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)
