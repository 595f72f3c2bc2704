// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/stun/v3"
)

const (
	stunTimeout        = 5 * time.Second
	stunMaxMessageSize = 1280
)

// getPublicIP resolves the public address of conn through a STUN binding
// request. Servers are tried in order until one answers.
func getPublicIP(conn net.PacketConn, stunURLs []string) (string, error) {
	if len(stunURLs) == 0 {
		return "", fmt.Errorf("no STUN server URL was found")
	}

	var errs []error
	for _, u := range stunURLs {
		serverAddr, err := resolveSTUNServer(u)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		addr, err := getXORMappedAddr(conn, serverAddr, stunTimeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("binding request to %s failed: %w", u, err))
			continue
		}

		return addr.IP.String(), nil
	}

	return "", fmt.Errorf("failed to get public address: %w", errors.Join(errs...))
}

func resolveSTUNServer(rawURL string) (*net.UDPAddr, error) {
	uri, err := stun.ParseURI(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", rawURL, err)
	}
	if uri.Scheme != stun.SchemeTypeSTUN {
		return nil, fmt.Errorf("unsupported scheme for %q", rawURL)
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(uri.Host, strconv.Itoa(uri.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stun host: %w", err)
	}
	return addr, nil
}

func getXORMappedAddr(conn net.PacketConn, serverAddr net.Addr, timeout time.Duration) (*stun.XORMappedAddress, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer func() {
		_ = conn.SetReadDeadline(time.Time{})
	}()

	req, err := stun.Build(stun.BindingRequest, stun.TransactionID)
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteTo(req.Raw, serverAddr); err != nil {
		return nil, err
	}

	res, err := readSTUNResponse(conn, req.TransactionID)
	if err != nil {
		return nil, err
	}

	var addr stun.XORMappedAddress
	if err := addr.GetFrom(res); err != nil {
		return nil, err
	}

	return &addr, nil
}

// readSTUNResponse reads from conn until the response to the transaction
// with the given id arrives. Anything else is discarded.
func readSTUNResponse(conn net.PacketConn, id [stun.TransactionIDSize]byte) (*stun.Message, error) {
	buf := make([]byte, stunMaxMessageSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return nil, err
		}

		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			continue
		}
		if res.TransactionID != id {
			continue
		}
		if res.Type.Class == stun.ClassErrorResponse {
			var code stun.ErrorCodeAttribute
			if err := code.GetFrom(res); err == nil {
				return nil, fmt.Errorf("server error: %s", code)
			}
			return nil, fmt.Errorf("server error")
		}

		return res, nil
	}
}
