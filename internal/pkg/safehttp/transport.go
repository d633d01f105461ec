// Package safehttp builds the hardened outbound transport used for peer calls.
package safehttp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrPlaintext is returned for any request whose URL is not https.
var ErrPlaintext = errors.New("refusing plaintext request")

// Options tunes the transport.
type Options struct {
	// RootCAs overrides the system roots, e.g. for a private federation CA.
	RootCAs *x509.CertPool

	// DenyPrivateNetworks rejects connections to loopback, private and
	// link-local addresses.
	DenyPrivateNetworks bool

	DialTimeout time.Duration
}

// TLSConfig returns TLS 1.2+ with AEAD-only cipher suites.
func TLSConfig(roots *x509.CertPool) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    roots,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// NewTransport returns an https-only round tripper over a hardened
// http.Transport.
func NewTransport(opts Options) http.RoundTripper {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}

	t := &http.Transport{
		TLSClientConfig:       TLSConfig(opts.RootCAs),
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if opts.DenyPrivateNetworks {
		t.DialContext = publicOnly(dialer)
	}
	return HTTPSOnly(t)
}

// HTTPSOnly wraps next so that plaintext URLs, including redirect targets,
// fail before any connection is made.
func HTTPSOnly(next http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL == nil || req.URL.Scheme != "https" {
			return nil, fmt.Errorf("%w to %s", ErrPlaintext, req.URL)
		}
		return next.RoundTrip(req)
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// publicOnly rejects connections to private or loopback IP ranges to reduce SSRF risk.
func publicOnly(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		ip := net.ParseIP(host)
		if ip == nil {
			conn.Close()
			return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
		}

		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			conn.Close()
			return nil, fmt.Errorf("access to private IP %s is denied", ip)
		}

		return conn, nil
	}
}
