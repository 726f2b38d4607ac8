package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/lucasew/artifactquota/internal/errutil"
)

const DefaultTimeout = 30 * time.Second

// Options configures the HTTP client used to talk to artifact backends.
type Options struct {
	// CACertFile is an optional PEM bundle appended to the system pool, for
	// self-hosted endpoints behind a private CA.
	CACertFile string
	Timeout    time.Duration
	UserAgent  string
}

// NewClient creates an http.Client trusting the system CAs plus the optional
// custom bundle, stamping every request with the configured User-Agent.
func NewClient(opts Options) (*http.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()

	if opts.CACertFile != "" {
		rootCAs, err := x509.SystemCertPool()
		if err != nil || rootCAs == nil {
			errutil.LogMsg(err, "Failed to load system cert pool, using empty pool")
			rootCAs = x509.NewCertPool()
		}
		pem, err := os.ReadFile(opts.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		if !rootCAs.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CACertFile)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: rootCAs}
	}

	var rt http.RoundTripper = transport
	if opts.UserAgent != "" {
		rt = &userAgentTransport{next: transport, userAgent: opts.UserAgent}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   opts.Timeout,
	}, nil
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(req)
}
