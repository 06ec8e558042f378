// Chimera: Stratum Entropy Bridge for SHA-256 ASICs
// Copyright (C) 2026  Guillermo Perry
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chimera/internal/client"
	"chimera/internal/logging"
	"chimera/pkg/hashing/core"
)

var (
	addr    = flag.String("addr", "127.0.0.1:4028", "distribution port of the bridge")
	count   = flag.Int("count", 32, "number of hashes to collect")
	timeout = flag.Duration("timeout", 30*time.Second, "give up after this long")
	verbose = flag.Bool("v", false, "log each burst")
)

func main() {
	flag.Parse()
	if *count <= 0 {
		fmt.Fprintln(os.Stderr, "count must be positive")
		os.Exit(2)
	}

	level := logging.WARN
	if *verbose {
		level = logging.DEBUG
	}
	log := logging.New(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	acc := client.NewAccumulator(client.NewEntropyClient(*addr), log)
	res := acc.Accumulate(ctx, *count, *timeout)

	for _, h := range res.Hashes {
		fmt.Println(core.EncodeHex(h[:]))
	}
	fmt.Fprintf(os.Stderr, "collected %d/%d hashes in %s (%d bursts, %d errors)\n",
		len(res.Hashes), *count, res.Elapsed.Round(time.Millisecond), res.Bursts, res.Errors)
	if !res.Complete {
		os.Exit(1)
	}
}
