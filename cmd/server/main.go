package main

import (
	"campaign-discount-engine/internal/app/server"
	"campaign-discount-engine/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)

	server.Run(cfg)
}
