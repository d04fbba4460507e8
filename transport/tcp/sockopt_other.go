//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import "syscall"

// controlSocket keeps the platform defaults.
func controlSocket(network, address string, c syscall.RawConn) error {
	return nil
}

func errnoReason(err error) (BindReason, bool) {
	return "", false
}
