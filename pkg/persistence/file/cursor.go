package file

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
)

// CursorRepository handles contact cursor file operations.
type CursorRepository struct {
	store *store
}

func (cr *CursorRepository) CreateMany(_ context.Context, cursors []*models.ContactCursor) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	for _, cursor := range cursors {
		if err := validateID("execution", cursor.ExecutionID); err != nil {
			return err
		}

		if err := validateID("contact", cursor.ContactID); err != nil {
			return err
		}

		var existing models.ContactCursor

		err := cr.store.read(cr.cursorPath(cursor.ExecutionID, cursor.ContactID), &existing)
		if err == nil {
			continue
		}

		if !errors.Is(err, errNotExist) {
			return err
		}

		err = cr.store.write(cr.cursorPath(cursor.ExecutionID, cursor.ContactID), cursor)
		if err != nil {
			return err
		}
	}

	return nil
}

func (cr *CursorRepository) Get(_ context.Context, executionID, contactID string) (*models.ContactCursor, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	return cr.get(executionID, contactID)
}

func (cr *CursorRepository) GetMany(_ context.Context, executionID string, contactIDs []string) ([]*models.ContactCursor, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	cursors := make([]*models.ContactCursor, 0, len(contactIDs))

	for _, contactID := range contactIDs {
		cursor, err := cr.get(executionID, contactID)
		if persistence.IsCursorNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		cursors = append(cursors, cursor)
	}

	return cursors, nil
}

func (cr *CursorRepository) Update(_ context.Context, cursor *models.ContactCursor) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	stored, err := cr.get(cursor.ExecutionID, cursor.ContactID)
	if err != nil {
		return err
	}

	if stored.Version != cursor.Version {
		return persistence.NewCursorError("Update", cursor.ExecutionID, cursor.ContactID, persistence.ErrCursorConflict)
	}

	next := cursor.Clone()
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	err = cr.store.write(cr.cursorPath(cursor.ExecutionID, cursor.ContactID), next)
	if err != nil {
		return err
	}

	cursor.Version = next.Version
	cursor.UpdatedAt = next.UpdatedAt

	return nil
}

func (cr *CursorRepository) List(_ context.Context, executionID string, statuses ...models.CursorStatus) ([]*models.ContactCursor, error) {
	if err := validateID("execution", executionID); err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	cursors := make([]*models.ContactCursor, 0)

	err := cr.store.readDir(cr.store.path("cursors", executionID), func(path string) error {
		var cursor models.ContactCursor
		if err := cr.store.read(path, &cursor); err != nil {
			return err
		}

		if len(statuses) == 0 || slices.Contains(statuses, cursor.Status) {
			cursors = append(cursors, &cursor)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(cursors, func(i, j int) bool {
		return cursors[i].ContactID < cursors[j].ContactID
	})

	return cursors, nil
}

func (cr *CursorRepository) CountByStatus(ctx context.Context, executionID string) (map[models.CursorStatus]int, error) {
	cursors, err := cr.List(ctx, executionID)
	if err != nil {
		return nil, err
	}

	counts := make(map[models.CursorStatus]int)
	for _, cursor := range cursors {
		counts[cursor.Status]++
	}

	return counts, nil
}

func (cr *CursorRepository) cursorPath(executionID, contactID string) string {
	return cr.store.path("cursors", executionID, contactID+".json")
}

func (cr *CursorRepository) get(executionID, contactID string) (*models.ContactCursor, error) {
	if err := validateID("execution", executionID); err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	if err := validateID("contact", contactID); err != nil {
		return nil, persistence.NewCursorError("Get", executionID, contactID, persistence.ErrCursorNotFound)
	}

	var cursor models.ContactCursor

	err := cr.store.read(cr.cursorPath(executionID, contactID), &cursor)
	if errors.Is(err, errNotExist) {
		return nil, persistence.NewCursorError("Get", executionID, contactID, persistence.ErrCursorNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &cursor, nil
}

// NodeExecutionRepository handles ledger file operations. Entries are never rewritten.
type NodeExecutionRepository struct {
	store *store
}

func (nr *NodeExecutionRepository) Append(_ context.Context, nodeExecution *models.NodeExecution) error {
	if err := validateID("execution", nodeExecution.ExecutionID); err != nil {
		return err
	}

	if err := validateID("node execution", nodeExecution.ID); err != nil {
		return err
	}

	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	return nr.store.write(nr.store.path("node_executions", nodeExecution.ExecutionID, nodeExecution.ID+".json"), nodeExecution)
}

func (nr *NodeExecutionRepository) FindSucceeded(_ context.Context, key persistence.LedgerKey) (*models.NodeExecution, error) {
	entries, err := nr.byExecution(key.ExecutionID)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if matchesKey(entry, key) && entry.Status == models.NodeExecutionSucceeded {
			return entry, nil
		}
	}

	return nil, persistence.ErrNodeExecutionNotFound
}

func (nr *NodeExecutionRepository) CountAttempts(_ context.Context, key persistence.LedgerKey) (int, error) {
	entries, err := nr.byExecution(key.ExecutionID)
	if err != nil {
		return 0, err
	}

	count := 0

	for _, entry := range entries {
		if matchesKey(entry, key) {
			count++
		}
	}

	return count, nil
}

func (nr *NodeExecutionRepository) ListByContact(_ context.Context, executionID, contactID string) ([]*models.NodeExecution, error) {
	entries, err := nr.byExecution(executionID)
	if err != nil {
		return nil, err
	}

	result := make([]*models.NodeExecution, 0)

	for _, entry := range entries {
		if entry.ContactID == contactID {
			result = append(result, entry)
		}
	}

	return result, nil
}

func (nr *NodeExecutionRepository) List(_ context.Context, filter models.NodeExecutionFilter) ([]*models.NodeExecution, int, error) {
	entries, err := nr.byExecution(filter.ExecutionID)
	if err != nil {
		return nil, 0, err
	}

	matched := make([]*models.NodeExecution, 0, len(entries))

	for _, entry := range entries {
		if filter.ContactID != "" && entry.ContactID != filter.ContactID {
			continue
		}

		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}

		matched = append(matched, entry)
	}

	total := len(matched)

	if filter.Offset >= total {
		return []*models.NodeExecution{}, total, nil
	}

	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	return matched, total, nil
}

// byExecution loads the ledger of one execution ordered by start time.
func (nr *NodeExecutionRepository) byExecution(executionID string) ([]*models.NodeExecution, error) {
	if err := validateID("execution", executionID); err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	entries := make([]*models.NodeExecution, 0)

	err := nr.store.readDir(nr.store.path("node_executions", executionID), func(path string) error {
		var entry models.NodeExecution
		if err := nr.store.read(path, &entry); err != nil {
			return err
		}

		entries = append(entries, &entry)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Step != entries[j].Step {
			return entries[i].Step < entries[j].Step
		}

		return entries[i].StartedAt.Before(entries[j].StartedAt)
	})

	return entries, nil
}

func matchesKey(entry *models.NodeExecution, key persistence.LedgerKey) bool {
	return entry.ContactID == key.ContactID && entry.NodeID == key.NodeID && entry.Step == key.Step
}
