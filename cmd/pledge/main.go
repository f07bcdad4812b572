// Package main is the single-binary entrypoint for pledge.
package main

import "github.com/pledgeloop/pledge/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
