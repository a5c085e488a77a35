// Package ship implements the remote shipper: resumable, chunk-granularity
// transfer of one volume's spool subdirectory to a remote archival prefix.
package ship

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coldcapture/coldcapture/internal/model"
)

// Transport is the resumable "ship bytes to a remote prefix" primitive the
// shipper drives. The actual sync protocol is a deployment detail; Transport
// only needs to support existence/size checks (for resume) and a streaming
// upload.
type Transport interface {
	// Stat reports whether remotePath already exists and, if so, its size.
	Stat(ctx context.Context, remotePath string) (size int64, exists bool, err error)
	// Put uploads all of r to remotePath. size is advisory (used for
	// Content-Length where the transport supports it).
	Put(ctx context.Context, remotePath string, r io.Reader, size int64) error
}

// HTTPTransport ships chunks over HTTP PUT to a base URL, using HEAD to
// check for already-present objects.
type HTTPTransport struct {
	BaseURL    string
	Client     *http.Client
	AuthHeader string // "Authorization" value, empty if unauthenticated
}

// NewHTTPTransport builds an HTTPTransport with a hardened client: bounded
// dial/handshake/response timeouts and a TLS floor of 1.2, matching the
// posture required of any client shipping forensic capture data off-host.
func NewHTTPTransport(baseURL, authHeader string) *HTTPTransport {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	base.TLSHandshakeTimeout = 10 * time.Second
	base.ResponseHeaderTimeout = 15 * time.Second
	base.ExpectContinueTimeout = 1 * time.Second
	base.IdleConnTimeout = 90 * time.Second
	base.ForceAttemptHTTP2 = true
	base.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}

	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Transport: base,
			// No end-to-end timeout: chunk uploads can be large and slow
			// under a bandwidth cap; callers bound duration via ctx instead.
		},
		AuthHeader: authHeader,
	}
}

func (t *HTTPTransport) url(remotePath string) string {
	return t.BaseURL + "/" + strings.TrimLeft(remotePath, "/")
}

func (t *HTTPTransport) Stat(ctx context.Context, remotePath string) (int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.url(remotePath), nil)
	if err != nil {
		return 0, false, &model.TransportError{Kind: model.TransportNetwork, Cause: err}
	}
	t.setAuth(req)

	resp, err := t.Client.Do(req)
	if err != nil {
		return 0, false, &model.TransportError{Kind: model.TransportNetwork, Cause: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return 0, false, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return 0, false, &model.TransportError{Kind: model.TransportAuth, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	case http.StatusOK:
		return resp.ContentLength, true, nil
	default:
		return 0, false, &model.TransportError{Kind: model.TransportRemoteFS, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

func (t *HTTPTransport) Put(ctx context.Context, remotePath string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.url(remotePath), r)
	if err != nil {
		return &model.TransportError{Kind: model.TransportNetwork, Cause: err}
	}
	if size >= 0 {
		req.ContentLength = size
	}
	t.setAuth(req)

	resp, err := t.Client.Do(req)
	if err != nil {
		return &model.TransportError{Kind: model.TransportNetwork, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &model.TransportError{Kind: model.TransportAuth, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return &model.TransportError{Kind: model.TransportRemoteFS, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &model.TransportError{Kind: model.TransportNetwork, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

func (t *HTTPTransport) setAuth(req *http.Request) {
	if t.AuthHeader != "" {
		req.Header.Set("Authorization", t.AuthHeader)
	}
}
