package main

import (
	"fmt"
	"os"

	"scenario-trader/internal/cli"
	"scenario-trader/internal/logging"
)

func main() {
	cfg := logging.DefaultLogConfig()
	cfg.File = false
	logger := logging.NewLoggerWithConfig(cfg)

	if err := cli.NewRootCmd(logger).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
