//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSocket runs before bind. SO_REUSEADDR lets a restarted server rebind
// past TIME_WAIT; SO_REUSEPORT stays off so a second live bind fails.
func controlSocket(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

func errnoReason(err error) (BindReason, bool) {
	switch {
	case errors.Is(err, unix.EADDRINUSE):
		return ReasonInUse, true
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return ReasonPermission, true
	case errors.Is(err, unix.EADDRNOTAVAIL):
		return ReasonUnavailable, true
	}
	return "", false
}
