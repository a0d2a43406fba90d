package engine

import "net/http"

//go:generate mockgen -package=engine -destination=mock_http_client_test.go -source=client.go HTTPClient

// HTTPClient executes vendor requests. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
