// Package main is the entry point for minarca-agent.
package main

import (
	"os"
)

func main() {
	os.Exit(Execute())
}
