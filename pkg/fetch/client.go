// Package fetch constructs the HTTP clients used by the direct download
// path. Two variants exist: the normal verified-TLS client, and an
// insecure one selected only for the single retry after a certificate
// verification failure.
package fetch

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"nexus-batch/pkg/config"
)

// NewClient creates a new HTTP client based on the provided configuration.
func NewClient(cfg config.HTTPClientConfig, log *logrus.Entry) *http.Client {
	return newClient(cfg, log, false)
}

// NewInsecureClient creates a client whose transport skips TLS certificate
// verification. Used exactly once per item, after a verified attempt failed
// on a certificate error.
func NewInsecureClient(cfg config.HTTPClientConfig, log *logrus.Entry) *http.Client {
	log.Warn("Building HTTP client with TLS verification disabled")
	return newClient(cfg, log, true)
}

func newClient(cfg config.HTTPClientConfig, log *logrus.Entry, insecure bool) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		// No overall client timeout: URL resolution and archive transfer use
		// different per-call deadlines via request contexts.
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
}
