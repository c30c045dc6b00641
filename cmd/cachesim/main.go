// Package main provides the cachesim command-line interface.
//
// Usage:
//
//	cachesim run [workload...]   run synthetic workloads
//	cachesim trace <file>        replay an access trace
//	cachesim config              print the effective configuration
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/tebeka/atexit"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
