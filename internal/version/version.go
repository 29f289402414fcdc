/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

// Package version reports the build version of the binaries in this module.
package version

// version is overridden at build time via
// -ldflags "-X github.com/p12tic/buildbot/internal/version.version=...".
var version = "dev"

// String returns the version string.
func String() string {
	return version
}
