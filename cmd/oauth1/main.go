// Package main is the entry point for the oauth1 CLI.
package main

import "github.com/basecamp/oauth1-cli/internal/cli"

func main() {
	cli.Execute()
}
