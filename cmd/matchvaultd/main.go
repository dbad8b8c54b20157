package main

import (
	"flag"
	"log/slog"
	"os"
	"strings"

	"matchvault/config"
	"matchvault/core"
	"matchvault/observability/logging"
	"matchvault/rpc"
	"matchvault/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MATCHVAULT_ENV"))
	logger := logging.Setup("matchvaultd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Environment != "" && env == "" {
		logger = logging.Setup(cfg.ServiceName, cfg.Environment)
	}

	policy, err := cfg.FeePolicy()
	if err != nil {
		logger.Error("invalid fee policy", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err), "path", cfg.DataDir)
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db, policy, cfg.Bond())
	if err != nil {
		logger.Error("failed to start node", slog.Any("error", err))
		os.Exit(1)
	}
	node.SetLogger(logger)

	server := rpc.NewServer(node, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
