// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package deploystack

import (
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// logGlobs are the remote paths worth keeping from an unhealthy or
// dismantled machine.
var logGlobs = []string{
	"/var/log/cloud-init*.log",
	"/var/log/juju/*.log",
	"/var/log/syslog",
}

// NewLogDir creates the artifact directory for one environment under
// a shared log root. Paired runs use distinct postfixes ("a", "b") so
// their artifacts land side by side.
func NewLogDir(root, postfix string) (string, error) {
	dir := filepath.Join(root, "env-"+postfix)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Trace(err)
	}
	return dir, nil
}

// dumpModelLogs copies logs from each known host into a machine
// subdirectory of dir and compresses the result. Failures are
// reported and swallowed.
func dumpModelLogs(dir string, hosts map[string]string) {
	ids := make([]string, 0, len(hosts))
	for id := range hosts {
		ids = append(ids, id)
	}
	for _, id := range set.NewStrings(ids...).SortedValues() {
		machineDir := filepath.Join(dir, "machine-"+id)
		if err := os.MkdirAll(machineDir, 0755); err != nil {
			logger.Warningf("cannot create %s: %v", machineDir, err)
			continue
		}
		copyLogsFrom(hosts[id], machineDir)
	}
	if err := archiveLogs(dir); err != nil {
		logger.Warningf("archiving logs under %s: %v", dir, err)
	}
}

// copyLogsFrom pulls the interesting logs from one machine. Missing
// files are normal on a machine that died early, so failure is only
// worth a warning.
func copyLogsFrom(address, dir string) {
	host := newRemote(address)
	if err := host.Copy(dir, logGlobs); err != nil {
		logger.Warningf("cannot copy logs from %s: %v", address, err)
	}
}

// archiveLogs compresses every log file under dir, recursively. A
// directory with no logs in it is fine.
func archiveLogs(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return errors.Trace(err)
		}
		if entry.IsDir() || !isLogName(entry.Name()) {
			return nil
		}
		if err := gzipFile(path); err != nil {
			return errors.Annotatef(err, "compressing %s", path)
		}
		return nil
	})
}

func isLogName(name string) bool {
	if strings.HasSuffix(name, ".gz") {
		return false
	}
	return strings.HasSuffix(name, ".log") || strings.Contains(name, "syslog")
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer src.Close()
	dst, err := os.Create(path + ".gz")
	if err != nil {
		return errors.Trace(err)
	}
	writer, err := gzip.NewWriterLevel(dst, gzip.BestCompression)
	if err != nil {
		dst.Close()
		return errors.Trace(err)
	}
	if _, err := io.Copy(writer, src); err != nil {
		writer.Close()
		dst.Close()
		return errors.Trace(err)
	}
	if err := writer.Close(); err != nil {
		dst.Close()
		return errors.Trace(err)
	}
	if err := dst.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.Remove(path))
}
