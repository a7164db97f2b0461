// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package deploystack

import (
	"github.com/juju/errors"
)

// LoggedError wraps a failure that has already been written to the
// log. Outer layers that see one should exit non-zero without
// reporting it a second time.
type LoggedError struct {
	cause error
}

// Logged marks err as reported. A nil error or one already marked
// passes through unchanged.
func Logged(err error) error {
	if err == nil {
		return nil
	}
	if IsLogged(err) {
		return err
	}
	return &LoggedError{cause: err}
}

// IsLogged reports whether err was already reported through the log.
func IsLogged(err error) bool {
	var logged *LoggedError
	return errors.As(err, &logged)
}

func (e *LoggedError) Error() string {
	return e.cause.Error()
}

// Unwrap exposes the underlying failure for callers that inspect it.
func (e *LoggedError) Unwrap() error {
	return e.cause
}
