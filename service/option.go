// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

type ClientOption func(c *Client) error
type DialContextFn func(ctx context.Context, network, addr string) (net.Conn, error)

// WithDialFunc sets the function HTTP connections of the client are dialed
// with.
func WithDialFunc(dialFn DialContextFn) ClientOption {
	return func(c *Client) error {
		c.dialFn = dialFn
		return nil
	}
}

// WithTLSConfig sets the TLS configuration used against https endpoints,
// e.g. to trust a private CA.
func WithTLSConfig(tlsCfg *tls.Config) ClientOption {
	return func(c *Client) error {
		if tlsCfg == nil {
			return fmt.Errorf("invalid tls config: should not be nil")
		}
		c.tlsCfg = tlsCfg
		return nil
	}
}

// WithRequestTimeout bounds the whole duration of each request, body
// included.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("invalid request timeout: should be positive")
		}
		c.timeout = d
		return nil
	}
}
