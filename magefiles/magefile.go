//go:build mage

// Package main provides build targets for the mender project using Mage.
//
// Usage:
//
//	mage build          Compile the mender binary to bin/
//	mage install        Install mender to GOPATH/bin
//	mage test:all       Run all tests
//	mage test:race      Run all tests with the race detector
//	mage test:cover     Write coverage.out and print the per-function summary
//	mage lint           Run golangci-lint
//	mage clean          Remove build artifacts
//	mage stats          Print Go LOC per package and documentation word counts
package main

const (
	binGo      = "go"
	binaryName = "mender"
	binaryDir  = "bin"
	cmdDir     = "./cmd/mender"
	modulePath = "github.com/mesh-intelligence/mender"
)
