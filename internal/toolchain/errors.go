// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package toolchain

import "fmt"

// UnavailableError means a required toolchain component could not be
// resolved or installed. It aborts the run: install failures are not
// transient, so there is no retry.
type UnavailableError struct {
	Tool string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("toolchain unavailable: %s: %v", e.Tool, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// PackageInstallError means sdkmanager failed to install a required
// package. Best-effort packages never produce this error.
type PackageInstallError struct {
	Package  string
	ExitCode int
	Output   string
}

func (e *PackageInstallError) Error() string {
	return fmt.Sprintf("sdk package install failed: %s (exit %d)", e.Package, e.ExitCode)
}
