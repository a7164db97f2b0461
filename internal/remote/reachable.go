// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package remote

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"golang.org/x/crypto/ssh"
)

// hostKeySeen means the handshake got far enough to present a host
// key, so an ssh server is answering on the address.
var hostKeySeen = errors.New("ssh host key seen")

var dialTimeout = 10 * time.Second

const probeInterval = 5 * time.Second

// probeSSH makes one connection attempt. Overridable for tests.
var probeSSH = sshProbe

func sshProbe(address string) error {
	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return errors.Trace(err)
	}
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))
	config := &ssh.ClientConfig{
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			// Seeing any key at all is enough; nothing is authenticated.
			return hostKeySeen
		},
	}
	// NewClientConn closes conn on error. The handshake is only driven
	// far enough to reach the host key callback.
	client, _, _, err := ssh.NewClientConn(conn, address, config)
	if err == nil {
		_ = client.Close()
		return nil
	}
	if strings.Contains(err.Error(), hostKeySeen.Error()) {
		return nil
	}
	return errors.Trace(err)
}

// WaitReachable polls address until an ssh server answers or the
// timeout expires. The address may carry a user prefix, and defaults
// to port 22.
func WaitReachable(ctx context.Context, clk clock.Clock, address string, timeout time.Duration) error {
	hostPort := address
	if i := strings.Index(hostPort, "@"); i >= 0 {
		hostPort = hostPort[i+1:]
	}
	if _, _, err := net.SplitHostPort(hostPort); err != nil {
		hostPort = net.JoinHostPort(hostPort, "22")
	}
	err := retry.Call(retry.CallArgs{
		Clock:       clk,
		Delay:       probeInterval,
		MaxDuration: timeout,
		Func: func() error {
			return probeSSH(hostPort)
		},
		NotifyFunc: func(lastError error, attempt int) {
			logger.Debugf("waiting for ssh on %s (attempt %d): %v", hostPort, attempt, lastError)
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil
		},
		Stop: ctx.Done(),
	})
	return errors.Annotatef(err, "waiting for ssh on %s", hostPort)
}
