// Package app wires a workspace into a ready-to-use engine: database
// opened, migrations applied, config loaded.
package app

import (
	"fmt"

	"hive/internal/config"
	"hive/internal/db"
	"hive/internal/engine"
	"hive/internal/migrate"
)

// Workspace is an opened hive workspace.
type Workspace struct {
	Root   string
	Config *config.Config
	Engine engine.Engine
}

// Open resolves the workspace rooted at root. A missing hive.yml falls
// back to defaults so read-only commands work in a bare directory.
func Open(root string) (*Workspace, error) {
	cfg, err := config.LoadOptional(root)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(root)
	if err != nil {
		return nil, fmt.Errorf("open workspace db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Workspace{
		Root:   root,
		Config: cfg,
		Engine: engine.New(conn, cfg),
	}, nil
}

// Close releases the workspace database handle.
func (w *Workspace) Close() error {
	if w == nil || w.Engine.DB == nil {
		return nil
	}
	return w.Engine.DB.Close()
}
