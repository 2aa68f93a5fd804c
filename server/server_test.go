package server

import (
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/batiment-compare/internal/config"
	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/internal/operations"
	"github.com/Epistemic-Technology/batiment-compare/internal/storage"
)

func TestNewJudge(t *testing.T) {
	log := logger.NewNoOpLogger()
	if judge := NewJudge(config.Config{Model: "gpt-4o-mini"}, log); judge != nil {
		t.Errorf("Expected nil judge without API key, got %T", judge)
	}
	if judge := NewJudge(config.Config{APIKey: "sk-test", Model: "gpt-4o-mini"}, log); judge == nil {
		t.Error("Expected a judge with an API key")
	}
}

func TestRegister(t *testing.T) {
	log := logger.NewNoOpLogger()
	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	server := mcp.NewServer(&mcp.Implementation{Name: "batiment-compare-test", Version: "v0.0.0"}, nil)
	svc := operations.New(config.Default(), store, nil, log)

	// Registration panics on an invalid tool schema.
	RegisterTools(server, svc, store, log)
	RegisterResources(server, store)
}

func TestInitializeStorage(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = t.TempDir() + "/runs.db"
	store, err := initializeStorage(cfg, logger.NewNoOpLogger())
	if err != nil {
		t.Fatalf("initializeStorage failed: %v", err)
	}
	store.Close()
}
