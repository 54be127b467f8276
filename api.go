package scraper

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx response from the dimension or fact API. Body carries
// the server's diagnostic text.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, body)
}

// NewAPIClient returns a resty client for the dimension and fact APIs. An
// empty token disables authentication.
func NewAPIClient(token string) *resty.Client {
	client := resty.New()
	client.SetTimeout(5 * time.Minute)
	client.SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return client
}

func checkResponse(res *resty.Response) error {
	if res.IsSuccess() {
		return nil
	}
	return &APIError{
		Method: res.Request.Method,
		URL:    res.Request.URL,
		Status: res.StatusCode(),
		Body:   res.String(),
	}
}
