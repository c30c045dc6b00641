// Package main provides the entry point for CacheLab.
// CacheLab simulates a set-associative, write-back, write-allocate cache
// with random replacement.
//
// For the full CLI, use: go run ./cmd/cachesim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("CacheLab - Set-Associative Cache Simulator")
	fmt.Println("Backed by Akita memory storage")
	fmt.Println("")
	fmt.Println("Usage: cachesim <command> [options]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  run [workload...]  Run synthetic workloads")
	fmt.Println("  trace <file>       Replay an access trace")
	fmt.Println("  config             Print the effective configuration")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/cachesim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/cachesim' instead.")
	}
}
