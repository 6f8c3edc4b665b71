package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const userAgent = "rangefetch/1.0"

// NewHTTPClient builds the client used for transfers. Only connection setup is
// bounded by connectTimeout; a transfer itself may take as long as it needs.
func NewHTTPClient(connectTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   connectTimeout,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	// CheckRedirect is left nil: Go's default policy follows up to 10 redirects.
	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}

// newRangeRequest asks for every byte from offset to the end of the resource.
func newRangeRequest(ctx context.Context, target string, offset int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Range", rangeHeader(offset))
	req.Header.Set("User-Agent", userAgent)

	return req, nil
}

func rangeHeader(offset int64) string {
	return fmt.Sprintf("bytes=%d-", offset)
}
