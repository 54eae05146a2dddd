package gate

import (
	"context"
	"fmt"
	"sync"

	pgerrors "github.com/pygate/pygate/internal/errors"
)

// ContentSource fetches the exact current text of a session cell. Scans for
// patch operations must run against the content as it exists right now, never
// against a cached or stale copy.
type ContentSource interface {
	// Get returns the current content of the cell, or an error wrapping
	// ErrScanUnavailable when it cannot be fetched
	Get(ctx context.Context, cellID string) (string, error)
}

// CellStore is the live interpreter session's view of its cells. It is both
// the content source for patch scans and the destination executed content is
// committed to.
type CellStore interface {
	ContentSource

	// Put commits content for the cell, creating it when missing
	Put(ctx context.Context, cellID, content string) error
}

// SessionCells is an in-memory CellStore scoped to one interpreter session
type SessionCells struct {
	mu    sync.RWMutex
	cells map[string]string
}

// NewSessionCells creates an empty cell store
func NewSessionCells() *SessionCells {
	return &SessionCells{cells: make(map[string]string)}
}

// Get returns the current content of a cell
func (s *SessionCells) Get(_ context.Context, cellID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.cells[cellID]
	if !ok {
		return "", fmt.Errorf("%w: cell %q", pgerrors.ErrScanUnavailable, cellID)
	}
	return content, nil
}

// Put commits content for a cell
func (s *SessionCells) Put(_ context.Context, cellID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cells[cellID] = content
	return nil
}

// Patch is a single replacement of the byte range [Start, End) in a cell with
// Text. An insertion is a patch with Start == End.
type Patch struct {
	CellID string `json:"cell_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Text   string `json:"text"`
}

// ApplyPatch computes the full content the cell would hold after the patch.
// The result is what gets scanned: a fragment that looks harmless in
// isolation can complete a dangerous statement already present in the cell.
func ApplyPatch(current string, p Patch) (string, error) {
	if p.Start < 0 || p.End < p.Start || p.End > len(current) {
		return "", fmt.Errorf("%w: patch range [%d, %d) out of bounds for content of length %d",
			pgerrors.ErrInvalidInput, p.Start, p.End, len(current))
	}
	return current[:p.Start] + p.Text + current[p.End:], nil
}
