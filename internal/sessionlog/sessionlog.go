// Package sessionlog appends classified faces to a CSV file.
package sessionlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/andresmejia3/visage/internal/types"
)

// Header is written once, when the log file is created.
var Header = []string{"Alias", "Gender", "Age"}

// Logger appends one row per face. The file is reopened for every row so
// each record reaches the OS before the next frame is processed.
type Logger struct {
	path  string
	alias string
	mu    sync.Mutex
}

// Open prepares path for appending. The file is opened in append mode
// before any frame is streamed, and a new file gets the header row.
func Open(path, alias string) (*Logger, error) {
	if path == "" {
		return nil, errors.New("session log path is empty")
	}

	_, err := os.Stat(path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat session log: %w", err)
	}

	var rows [][]string
	if !exists {
		rows = append(rows, Header)
	}
	if err := writeRows(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, rows...); err != nil {
		return nil, fmt.Errorf("prepare session log: %w", err)
	}

	return &Logger{path: path, alias: alias}, nil
}

// Path returns the log file location.
func (l *Logger) Path() string { return l.path }

// Alias returns the alias stamped on rows whose record carries none.
func (l *Logger) Alias() string { return l.alias }

// Append writes rec as "<alias>,<gender>,<age>".
func (l *Logger) Append(rec types.LogRecord) error {
	alias := rec.Alias
	if alias == "" {
		alias = l.alias
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return writeRows(l.path, os.O_APPEND|os.O_WRONLY, []string{alias, rec.Gender, rec.Age})
}

func writeRows(path string, flag int, rows ...[]string) error {
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.UseCRLF = true
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
