package main

import (
	"context"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/batiment-compare/internal/config"
	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/server"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "batiment-compare: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LogConfig{
		Output: cfg.LogOutput,
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		panic(err)
	}

	log.Info("Starting batiment-compare server")

	srv := server.CreateServer(cfg, log)
	err = srv.Run(context.Background(), &mcp.StdioTransport{})
	if err != nil {
		log.Fatal("Server failed: %v", err)
	}
}
