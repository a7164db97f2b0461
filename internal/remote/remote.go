// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package remote reaches the machines of a provisioned environment
// directly over ssh. Log retrieval has to keep working when the juju
// agents are the thing being debugged, so nothing here goes through
// the agents.
package remote

import (
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"
	"github.com/juju/utils/v4/ssh"
)

var logger = loggo.GetLogger("juju.acceptance.remote")

const defaultUser = "ubuntu"

// Overridable for tests.
var (
	sshCopy = ssh.Copy

	sshOutput = func(host string, command []string, options *ssh.Options) ([]byte, error) {
		return ssh.DefaultClient.Command(host, command, options).Output()
	}
)

// SSHRemote is a handle on one machine, addressed directly.
type SSHRemote struct {
	address string
	options *ssh.Options
}

// NewSSH returns a remote for the machine at address, driven as the
// ubuntu user unless the address carries its own. Host keys are not
// checked: the machines are freshly provisioned throwaways whose keys
// nobody has recorded.
func NewSSH(address string) *SSHRemote {
	options := &ssh.Options{}
	options.SetStrictHostKeyChecking(ssh.StrictHostChecksNo)
	options.SetKnownHostsFile("/dev/null")
	return &SSHRemote{
		address: address,
		options: options,
	}
}

// Address returns the address the remote was built for.
func (r *SSHRemote) Address() string {
	return r.address
}

func (r *SSHRemote) target() string {
	if strings.Contains(r.address, "@") {
		return r.address
	}
	return defaultUser + "@" + r.address
}

// Copy fetches every remote file matching the given glob patterns into
// dstDir. A pattern matching nothing surfaces as an scp failure, which
// callers treat like any other retrieval failure.
func (r *SSHRemote) Copy(dstDir string, patterns []string) error {
	args := []string{"-rC"}
	for _, pattern := range patterns {
		args = append(args, r.target()+":"+pattern)
	}
	args = append(args, dstDir)
	logger.Debugf("copying %v from %s", patterns, r.address)
	return errors.Annotatef(sshCopy(args, r.options), "copying from %s", r.address)
}

// Cat returns the contents of a file on the remote machine.
func (r *SSHRemote) Cat(path string) (string, error) {
	out, err := sshOutput(r.target(), []string{"cat", utils.ShQuote(path)}, r.options)
	if err != nil {
		return "", errors.Annotatef(err, "reading %s on %s", path, r.address)
	}
	return string(out), nil
}
