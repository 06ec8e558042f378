// Chimera: Stratum Entropy Bridge for SHA-256 ASICs
// Copyright (C) 2026  Guillermo Perry
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"chimera/internal/cli/ui"
	"chimera/internal/client"
)

var (
	addr    = flag.String("addr", "127.0.0.1:4028", "distribution port of the bridge")
	refresh = flag.Duration("refresh", ui.DefaultRefresh, "metrics poll interval")
	apiURL  = flag.String("api", "", "bridge HTTP API base URL for session details, e.g. http://127.0.0.1:8080")
)

func main() {
	flag.Parse()

	model := ui.NewModel(client.NewEntropyClient(*addr), *addr, *refresh)
	if *apiURL != "" {
		model = model.WithHealth(client.NewAPIClient(*apiURL))
	}
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}
