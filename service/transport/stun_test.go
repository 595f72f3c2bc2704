// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/require"
)

func listenLocalUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// serveSTUN answers a single binding request. A stray response with a
// foreign transaction id is sent first when noise is set.
func serveSTUN(conn net.PacketConn, mapped net.IP, noise bool, setters ...stun.Setter) {
	buf := make([]byte, 1500)
	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		return
	}

	req := &stun.Message{Raw: buf[:n]}
	if err := req.Decode(); err != nil {
		return
	}

	if noise {
		stray, err := stun.Build(stun.TransactionID, stun.BindingSuccess,
			&stun.XORMappedAddress{IP: net.IPv4(198, 51, 100, 1), Port: 1})
		if err == nil {
			_, _ = conn.WriteTo(stray.Raw, addr)
		}
		_, _ = conn.WriteTo([]byte("not stun"), addr)
	}

	if len(setters) == 0 {
		setters = []stun.Setter{stun.BindingSuccess, &stun.XORMappedAddress{IP: mapped, Port: 4242}}
	}
	res, err := stun.Build(append([]stun.Setter{req}, setters...)...)
	if err != nil {
		return
	}

	_, _ = conn.WriteTo(res.Raw, addr)
}

func TestGetPublicIP(t *testing.T) {
	t.Run("no server", func(t *testing.T) {
		conn := listenLocalUDP(t)
		ip, err := getPublicIP(conn, nil)
		require.EqualError(t, err, "no STUN server URL was found")
		require.Empty(t, ip)
	})

	t.Run("valid", func(t *testing.T) {
		srvConn := listenLocalUDP(t)
		go serveSTUN(srvConn, net.IPv4(203, 0, 113, 7), false)

		conn := listenLocalUDP(t)
		ip, err := getPublicIP(conn, []string{"stun:" + srvConn.LocalAddr().String()})
		require.NoError(t, err)
		require.Equal(t, "203.0.113.7", ip)
	})

	t.Run("unrelated packets are skipped", func(t *testing.T) {
		srvConn := listenLocalUDP(t)
		go serveSTUN(srvConn, net.IPv4(203, 0, 113, 8), true)

		conn := listenLocalUDP(t)
		ip, err := getPublicIP(conn, []string{"stun:" + srvConn.LocalAddr().String()})
		require.NoError(t, err)
		require.Equal(t, "203.0.113.8", ip)
	})

	t.Run("falls back to next server", func(t *testing.T) {
		srvConn := listenLocalUDP(t)
		go serveSTUN(srvConn, net.IPv4(203, 0, 113, 9), false)

		conn := listenLocalUDP(t)
		ip, err := getPublicIP(conn, []string{
			"stuns:stun.example.com",
			"stun:" + srvConn.LocalAddr().String(),
		})
		require.NoError(t, err)
		require.Equal(t, "203.0.113.9", ip)
	})

	t.Run("all servers fail", func(t *testing.T) {
		conn := listenLocalUDP(t)
		ip, err := getPublicIP(conn, []string{"turn:turn.example.com", "invalid"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to get public address")
		require.Contains(t, err.Error(), `unsupported scheme for "turn:turn.example.com"`)
		require.Contains(t, err.Error(), `failed to parse "invalid"`)
		require.Empty(t, ip)
	})
}

func TestGetXORMappedAddr(t *testing.T) {
	t.Run("error response", func(t *testing.T) {
		srvConn := listenLocalUDP(t)
		go serveSTUN(srvConn, nil, false,
			stun.NewType(stun.MethodBinding, stun.ClassErrorResponse), stun.CodeServerError)

		conn := listenLocalUDP(t)
		addr, err := getXORMappedAddr(conn, srvConn.LocalAddr(), time.Second)
		require.Error(t, err)
		require.Contains(t, err.Error(), "server error")
		require.Nil(t, addr)
	})

	t.Run("timeout", func(t *testing.T) {
		srvConn := listenLocalUDP(t)

		conn := listenLocalUDP(t)
		addr, err := getXORMappedAddr(conn, srvConn.LocalAddr(), 100*time.Millisecond)
		require.Error(t, err)
		require.Nil(t, addr)

		var netErr net.Error
		require.ErrorAs(t, err, &netErr)
		require.True(t, netErr.Timeout())
	})
}
