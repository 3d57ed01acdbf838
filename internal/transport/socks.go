package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// proxiedClient builds an HTTP client whose every connection is dialed
// through the local SOCKS5 listener. DNS resolution happens proxy-side,
// which matters for anonymity: the local resolver must never see the
// egress-check hostname.
func (g *Gate) proxiedClient() (*http.Client, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(g.cfg.SocksPort))

	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("building socks5 dialer: %w", err)
	}

	dialCtx := func(ctx context.Context, network, address string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, address)
		}
		return dialer.Dial(network, address)
	}

	return &http.Client{
		Timeout: g.cfg.EgressTimeout,
		Transport: &http.Transport{
			DialContext:           dialCtx,
			DisableKeepAlives:     true,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: g.cfg.EgressTimeout,
		},
	}, nil
}
