/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds the build version.
package version

// Version is the current version of Inkwell.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/inkwell/internal/version.Version=X.Y.Z
var Version = "0.1.0"
