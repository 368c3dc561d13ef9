package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	apperrors "github.com/kashikaryash/redtape/pkg/errors"
	"github.com/kashikaryash/redtape/pkg/httpclient"
)

// HTTPDoer is the interface for executing HTTP requests. Both
// httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPLookup implements ProductLookup against the product service's REST API.
type HTTPLookup struct {
	client  HTTPDoer
	baseURL string
}

// NewHTTPLookup creates a product lookup backed by the product service at
// baseURL.
func NewHTTPLookup(client HTTPDoer, baseURL string) *HTTPLookup {
	return &HTTPLookup{
		client:  client,
		baseURL: baseURL,
	}
}

// Resolve fetches the product by ID. Unknown products map to a
// PRODUCT_NOT_FOUND error so callers can distinguish them from transport
// failures.
func (l *HTTPLookup) Resolve(ctx context.Context, productID string) (*Product, error) {
	reqURL := fmt.Sprintf("%s/api/v1/products/%s", l.baseURL, url.PathEscape(productID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create product request: %w", err)
	}

	resp, err := l.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call product service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NotFoundWithCode("PRODUCT_NOT_FOUND",
			fmt.Sprintf("product %s not found", productID))
	case resp.StatusCode != http.StatusOK:
		return nil, httpclient.ParseResponseError(resp, "product")
	}

	var envelope struct {
		Data Product `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode product response: %w", err)
	}

	return &envelope.Data, nil
}
