// Package file provides file-based persistence implementation for flows and campaign executions.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/courier/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// All repositories share one lock so conditional updates are atomic within a process.
type Persistence struct {
	root string
	mu   *sync.Mutex

	flowRepo          *FlowRepository
	contactRepo       *ContactRepository
	executionRepo     *ExecutionRepository
	cursorRepo        *CursorRepository
	nodeExecutionRepo *NodeExecutionRepository
	toolRepo          *ToolRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	store := &store{root: cleanRoot, mu: &sync.Mutex{}}

	return &Persistence{
		root:              cleanRoot,
		mu:                store.mu,
		flowRepo:          &FlowRepository{store: store},
		contactRepo:       &ContactRepository{store: store},
		executionRepo:     &ExecutionRepository{store: store},
		cursorRepo:        &CursorRepository{store: store},
		nodeExecutionRepo: &NodeExecutionRepository{store: store},
		toolRepo:          &ToolRepository{store: store},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) FlowRepository() persistence.FlowRepository {
	return fp.flowRepo
}

func (fp *Persistence) ContactRepository() persistence.ContactRepository {
	return fp.contactRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) CursorRepository() persistence.CursorRepository {
	return fp.cursorRepo
}

func (fp *Persistence) NodeExecutionRepository() persistence.NodeExecutionRepository {
	return fp.nodeExecutionRepo
}

func (fp *Persistence) ToolRepository() persistence.ToolRepository {
	return fp.toolRepo
}

// store holds the JSON file helpers shared by the repositories.
type store struct {
	root string
	mu   *sync.Mutex
}

var errNotExist = errors.New("file does not exist")

// validateID validates that an ID is safe for file operations.
func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s ID cannot be empty", kind)
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("%s ID contains invalid characters", kind)
	}

	return nil
}

func (s *store) path(parts ...string) string {
	return filepath.Join(append([]string{s.root}, parts...)...)
}

func (s *store) write(filePath string, value any) error {
	err := os.MkdirAll(filepath.Dir(filePath), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filePath, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filePath, err)
	}

	err = os.WriteFile(filePath, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filePath, err)
	}

	return nil
}

func (s *store) read(filePath string, value any) error {
	data, err := os.ReadFile(filePath) // #nosec G304 -- path components are validated
	if err != nil {
		if os.IsNotExist(err) {
			return errNotExist
		}

		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}

	return nil
}

// readDir decodes every JSON file in dir using decode. A missing directory is empty.
func (s *store) readDir(dir string, decode func(path string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		err := decode(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
	}

	return nil
}
