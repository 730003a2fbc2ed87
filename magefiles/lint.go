//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import "github.com/magefile/mage/sh"

const (
	binLint     = "golangci-lint"
	lintTimeout = "5m"
)

// Lint runs golangci-lint over the module and the mage targets.
func Lint() error {
	return sh.RunV(binLint, "run", "--timeout", lintTimeout, "--build-tags", "mage", "./...")
}
