//go:build !linux

package main

import "syscall"

func tuneMocapSocket(int) func(network, address string, c syscall.RawConn) error {
	return nil
}
