package localfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

// Dataset appends evaluation records as JSON lines, one file per project.
type Dataset struct {
	basePath string

	mu sync.Mutex
}

func New(basePath string) (*Dataset, error) {
	if basePath == "" {
		basePath = "./data/evaluations"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	return &Dataset{basePath: basePath}, nil
}

func (d *Dataset) Append(_ context.Context, record domain.EvaluationRecord) error {
	name, err := datasetFileName(record.ProjectID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal evaluation record: %w", err)
	}
	line = append(line, '\n')

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(d.basePath, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open dataset file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write dataset file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close dataset file: %w", err)
	}
	return nil
}

// Path returns the file holding the records of projectID.
func (d *Dataset) Path(projectID string) (string, error) {
	name, err := datasetFileName(projectID)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.basePath, name), nil
}

func datasetFileName(projectID string) (string, error) {
	id := strings.TrimSpace(projectID)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", domain.WrapError(domain.ErrInvalidInput, "dataset file name", fmt.Errorf("invalid project id %q", projectID))
	}
	return id + ".jsonl", nil
}
