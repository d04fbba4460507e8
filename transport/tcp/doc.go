// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements the TCP listening socket for hioload-echo: bind with
// explicit socket options, bind-failure classification and the accept call.
// The WebSocket handshake itself lives in package protocol.
package tcp
