package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/poet-crawler/pkg/models"
	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

// ItemWriter is an ItemPipeline appending every item as one JSON line
type ItemWriter struct {
	log   *logrus.Entry
	path  string
	mu    sync.Mutex
	file  *os.File
	count int
}

// NewItemWriter opens path for items, appending on resume and truncating otherwise
func NewItemWriter(path string, resume bool, log *logrus.Entry) (*ItemWriter, error) {
	writerLog := log.WithField("items_file", path)
	file, err := openOutputFile(writerLog, path, "items JSONL", resume)
	if err != nil {
		return nil, err
	}
	return &ItemWriter{log: writerLog, path: path, file: file}, nil
}

// ProcessItem writes item and passes it on unchanged
func (w *ItemWriter) ProcessItem(_ context.Context, item any) (any, error) {
	jsonBytes, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal item to JSON: %w", utils.ErrParsing, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil, fmt.Errorf("%w: items file '%s' is closed", utils.ErrFilesystem, w.path)
	}
	if _, err := w.file.Write(append(jsonBytes, '\n')); err != nil {
		return nil, fmt.Errorf("%w: write items file '%s': %w", utils.ErrFilesystem, w.path, err)
	}
	w.count++
	return item, nil
}

// Count returns the number of items written by this writer
func (w *ItemWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close syncs and closes the file
func (w *ItemWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.log.Warnf("Failed to sync items file: %v", err)
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("%w: close items file '%s': %w", utils.ErrFilesystem, w.path, err)
	}
	w.log.Infof("Closed items file (%d items written)", w.count)
	return nil
}

// openOutputFile opens an output file for writing, appending on resume and truncating otherwise
func openOutputFile(log *logrus.Entry, path, label string, resume bool) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create directory for %s file '%s': %w", utils.ErrFilesystem, label, path, err)
		}
	}
	openFlags := os.O_CREATE | os.O_WRONLY
	if resume {
		log.Infof("Resume mode: Appending to %s file: %s", label, path)
		openFlags |= os.O_APPEND
	} else {
		log.Infof("Non-resume mode: Truncating %s file: %s", label, path)
		openFlags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, openFlags, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s file '%s': %w", utils.ErrFilesystem, label, path, err)
	}
	return file, nil
}

// WriteSummaryYAML writes the crawl summary to path
func WriteSummaryYAML(path string, summary *models.CrawlSummary, log *logrus.Entry) error {
	log.Infof("Writing crawl summary to: %s", path)
	yamlData, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal crawl summary to YAML for run '%s': %w", summary.RunID, err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: create directory for summary '%s': %w", utils.ErrFilesystem, path, err)
		}
	}
	if err := os.WriteFile(path, yamlData, 0644); err != nil {
		return fmt.Errorf("%w: write summary YAML '%s': %w", utils.ErrFilesystem, path, err)
	}
	log.Infof("Wrote crawl summary (%d items, %d counters) to %s", summary.ItemsScraped, len(summary.Stats), path)
	return nil
}
