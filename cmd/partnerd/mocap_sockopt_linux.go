//go:build linux

package main

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneMocapSocket disables Nagle and, when size > 0, sets the receive buffer.
func tuneMocapSocket(size int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); sockErr != nil {
				return
			}
			if size > 0 {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
