package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Audit persists each step's screenshot and record under a session
// directory, so a finished session can be replayed offline. Screenshots
// are gzip-compressed; step records append to a JSON lines file.
type Audit struct {
	dir string
}

// NewAudit creates the audit root directory.
func NewAudit(dir string) (*Audit, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	return &Audit{dir: dir}, nil
}

// SaveStep writes one step's screenshot and record.
func (a *Audit) SaveStep(sessionID string, step Step, screenshotPNG []byte) error {
	dir := filepath.Join(a.dir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	shotPath := filepath.Join(dir, fmt.Sprintf("step-%04d.png.gz", step.Index))
	if err := writeGzip(shotPath, screenshotPNG); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, "steps.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(step)
}

func writeGzip(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Screenshots are already PNG-compressed; the fastest level still
	// shrinks the metadata without burning CPU per step.
	w, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ReadScreenshot loads one step's screenshot back.
func (a *Audit) ReadScreenshot(sessionID string, index int) ([]byte, error) {
	path := filepath.Join(a.dir, sessionID, fmt.Sprintf("step-%04d.png.gz", index))
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
