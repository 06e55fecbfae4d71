// Package artifacts persists what the agents generate: the backend source and
// its endpoint schema, inside a directory the build tool can work in.
package artifacts

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/iambrandonn/coderloop/internal/fsutil"
	"github.com/iambrandonn/coderloop/internal/project"
)

//go:embed templates/server.go.tmpl
var serverTemplate string

const (
	CodeFile   = "main.go"
	SchemaFile = "schemas/api_schema.json"

	generatedModule = "generated/backend"
	goVersion       = "1.22"
)

// Template returns the starting server the first generation request extends.
func Template() string {
	return serverTemplate
}

// Checksum identifies one revision of generated code as "sha256:<hex>".
func Checksum(code string) string {
	sum := sha256.Sum256([]byte(code))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Store owns the generated project directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Dir is where builds and the server run.
func (s *Store) Dir() string { return s.dir }

// Initialize creates the directory and a go.mod if one is not there yet.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	modPath := filepath.Join(s.dir, "go.mod")
	if fsutil.FileExists(modPath) {
		return nil
	}

	gomod := fmt.Sprintf("module %s\n\ngo %s\n", generatedModule, goVersion)
	if err := fsutil.AtomicWrite(modPath, []byte(gomod), 0o644); err != nil {
		return fmt.Errorf("failed to write go.mod: %w", err)
	}
	s.logger.Info("initialized generated project", "dir", s.dir)
	return nil
}

// SaveCode replaces the server source.
func (s *Store) SaveCode(code string) error {
	path := filepath.Join(s.dir, CodeFile)
	if err := fsutil.AtomicWrite(path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("failed to save backend code: %w", err)
	}
	s.logger.Debug("saved backend code", "path", path, "bytes", len(code))
	return nil
}

// LoadCode reads the server source back.
func (s *Store) LoadCode() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, CodeFile))
	if err != nil {
		return "", fmt.Errorf("failed to read backend code: %w", err)
	}
	return string(data), nil
}

// SaveSchema writes the full endpoint schema as a JSON array.
func (s *Store) SaveSchema(routes []project.EndpointRoute) error {
	if routes == nil {
		routes = []project.EndpointRoute{}
	}
	path := filepath.Join(s.dir, SchemaFile)
	if err := fsutil.AtomicWriteJSON(path, routes); err != nil {
		return fmt.Errorf("failed to save endpoint schema: %w", err)
	}
	s.logger.Info("saved endpoint schema", "path", path, "routes", len(routes))
	return nil
}
