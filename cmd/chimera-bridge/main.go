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

	"chimera/internal/config"
	"chimera/internal/discovery"
	"chimera/internal/host"
	"chimera/internal/logging"
)

var (
	configPath  = flag.String("config", "", "path to a YAML config file (default: chimera.yaml on the search path)")
	logLevel    = flag.String("log-level", "", "override log level (debug, info, warn, error)")
	pointDevice = flag.String("point-device", "", "rewrite the device's pool settings to this host before serving")
	discover    = flag.String("discover", "", "scan this CIDR (or \"auto\") for an AxeOS device when device_ip is unset")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log, err := logging.NewLogger(cfg.Logging())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DeviceIP == "" && *discover != "" {
		dcfg := discovery.NewConfig()
		if *discover != "auto" {
			dcfg.Subnet = *discover
		}
		best, err := discovery.FindDevice(ctx, dcfg)
		if err != nil {
			log.Warn("Device discovery failed: %v", err)
		} else {
			log.Info("Discovered device at %s (%.1f GH/s)", best.Address, best.HashRate)
			cfg.DeviceIP = best.Address
		}
	}

	coord, err := host.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to assemble bridge: %v", err)
	}
	if err := coord.Listen(); err != nil {
		log.Fatal("Failed to bind: %v", err)
	}

	if *pointDevice != "" {
		if err := coord.PointDevice(ctx, *pointDevice); err != nil {
			log.Warn("Could not point device at %s: %v", *pointDevice, err)
		}
	}

	if err := coord.Run(ctx); err != nil {
		log.Error("Bridge exited: %v", err)
		os.Exit(1)
	}
}
