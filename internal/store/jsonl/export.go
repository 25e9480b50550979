// Package jsonl streams upserted catalog items to a newline-delimited
// JSON file, one object per line, for downstream consumers.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dcarver/catcrawl/internal/crawl"
)

// Exporter appends items to a JSONL file as they are upserted. Safe for
// concurrent use by workers.
type Exporter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// Create truncates (or creates) the export file at path.
func Create(path string) (*Exporter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	buf := bufio.NewWriter(file)
	return &Exporter{file: file, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Export writes one item as a single JSON line.
func (e *Exporter) Export(item *crawl.CatalogItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(item); err != nil {
		return fmt.Errorf("encode item %s: %w", item.ID, err)
	}
	return nil
}

// Close flushes buffered lines and closes the file.
func (e *Exporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.buf.Flush(); err != nil {
		e.file.Close()
		return fmt.Errorf("flush export file: %w", err)
	}
	return e.file.Close()
}

var _ crawl.Exporter = (*Exporter)(nil)
