package cmd

import (
	"fmt"

	"github.com/sealbox/sealbox/internal/app"
	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/logger"
)

// openApp loads the server configuration and wires the same pipeline the
// server runs, without background work.
func openApp() (*app.App, error) {
	cfg := config.Load()
	logger.Init(cfg.IsDevelopment(), "", cfg.AppEnv)

	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}
	return a, nil
}
