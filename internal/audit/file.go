package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

const serviceName = "asset-delivery-engine"

type fileLine struct {
	Seq       int64             `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	Action    model.AuditAction `json:"action"`
	OrderID   string            `json:"order_id"`
	Detail    string            `json:"detail"`
	Service   string            `json:"service"`
}

// FileAppender appends records as JSON lines and syncs after each write.
type FileAppender struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFile opens or creates an append-only audit file.
func OpenFile(path string) (*FileAppender, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	return &FileAppender{f: f}, nil
}

// Append implements Appender.
func (a *FileAppender) Append(_ context.Context, rec model.AuditRecord) error {
	line, err := encodeLine(rec)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.f.Write(line); err != nil {
		return fmt.Errorf("failed to write audit line: %w", err)
	}

	return a.f.Sync()
}

// Close closes the file.
func (a *FileAppender) Close() error {
	return a.f.Close()
}

func encodeLine(rec model.AuditRecord) ([]byte, error) {
	line, err := json.Marshal(fileLine{
		Seq:       rec.Seq,
		Timestamp: rec.Timestamp,
		Action:    rec.Action,
		OrderID:   rec.OrderID,
		Detail:    rec.Detail,
		Service:   serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit line: %w", err)
	}

	return append(line, '\n'), nil
}
