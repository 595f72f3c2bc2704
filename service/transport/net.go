// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const udpSocketBufferSize = 4 * 1024 * 1024

func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var optErr error
	if err := c.Control(func(fd uintptr) {
		optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return optErr
}

// listenUDP opens the socket shared by every peer connection through the ICE
// UDP mux.
func listenUDP(ctx context.Context, log mlog.LoggerIFace, listenAddress string) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: setReuseAddr}
	conn, err := lc.ListenPacket(ctx, "udp4", listenAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on udp: %w", err)
	}
	udpConn := conn.(*net.UDPConn)

	// Undersized buffers only cost packet loss under load.
	if err := udpConn.SetWriteBuffer(udpSocketBufferSize); err != nil {
		log.Warn("transport: failed to set udp send buffer", mlog.Err(err))
	}
	if err := udpConn.SetReadBuffer(udpSocketBufferSize); err != nil {
		log.Warn("transport: failed to set udp receive buffer", mlog.Err(err))
	}

	log.Info("transport: listening on udp", mlog.String("addr", udpConn.LocalAddr().String()))

	return udpConn, nil
}

// localAddrs returns the addresses of the active interfaces that can carry
// media: IPv4 ones, plus global unicast IPv6 ones if dualStack is set.
func localAddrs(log mlog.LoggerIFace, dualStack bool) ([]netip.Addr, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get system interfaces: %w", err)
	}

	var ips []netip.Addr
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			log.Warn("transport: failed to get interface addresses", mlog.String("interface", iface.Name), mlog.Err(err))
			continue
		}

		for _, addr := range addrs {
			prefix, err := netip.ParsePrefix(addr.String())
			if err != nil {
				continue
			}
			ip := prefix.Addr().Unmap()
			if ip.Is6() && (!dualStack || !ip.IsGlobalUnicast()) {
				continue
			}
			ips = append(ips, ip)
		}
	}

	return ips, nil
}

// checkListenAddr fails if addr is a specific address that none of the
// local interfaces carries.
func checkListenAddr(addr string, local []netip.Addr) error {
	if addr == "" {
		return nil
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	ip = ip.Unmap()
	if ip.IsUnspecified() || slices.Contains(local, ip) {
		return nil
	}
	return fmt.Errorf("listen address %s is not assigned to any local interface", ip)
}
