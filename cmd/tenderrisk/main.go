package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// @title Tender Risk API
// @version 1.0
// @description Rule-based and supervised corruption-risk scoring for procurement tenders.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
