package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"
)

const defaultRequestTimeout = 30 * time.Second

// ClientOptions controls how discovery requests leave the host.
type ClientOptions struct {
	// SocksProxy routes requests through a SOCKS5 server, e.g. a running
	// Tor's 127.0.0.1:9050. Empty means direct.
	SocksProxy string
	// MimicBrowserTLS replaces the Go TLS handshake with a randomized
	// browser-like ClientHello.
	MimicBrowserTLS bool
	Timeout         time.Duration
}

type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// NewHTTPClient builds the client shared by the discovery sources.
func NewHTTPClient(opts ClientOptions) (*http.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	base := &net.Dialer{Timeout: timeout}
	dial := dialContextFunc(base.DialContext)

	if opts.SocksProxy != "" {
		d, err := proxy.SOCKS5("tcp", opts.SocksProxy, nil, base)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", opts.SocksProxy)
		}
		dial = cd.DialContext
	}

	transport := &http.Transport{
		DialContext:         dial,
		TLSHandshakeTimeout: timeout,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
	}
	if opts.MimicBrowserTLS {
		transport.DialTLSContext = browserTLSDialer(dial)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// browserTLSDialer wraps dial with a uTLS handshake. The ALPN-free hello
// keeps the connection on HTTP/1.1, which net/http expects from a custom
// TLS dialer.
func browserTLSDialer(dial dialContextFunc) dialContextFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		raw, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			raw.Close()
			return nil, err
		}

		conn := utls.UClient(raw, &utls.Config{ServerName: host}, utls.HelloRandomizedNoALPN)
		if err := conn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("tls handshake with %s failed: %w", addr, err)
		}
		return conn, nil
	}
}
