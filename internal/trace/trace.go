// Package trace persists SPSA iterates as JSON lines.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/copyleftdev/spsa/internal/optimization"
	"github.com/copyleftdev/spsa/internal/optimization/spsa"
)

// FileName is the name of the trace file inside a run directory.
const FileName = "trace.jsonl"

// Entry is one line of a trace file.
type Entry struct {
	Iteration               int                  `json:"iteration"`
	Position                []optimization.Float `json:"position"`
	ObjectiveValue          optimization.Float   `json:"objective_value"`
	PreviousObjectiveValue  optimization.Float   `json:"objective_value_previous_iteration"`
	LR                      float64              `json:"lr"`
	Perturb                 float64              `json:"perturb"`
	Accepted                bool                 `json:"accepted"`
	Converged               bool                 `json:"converged"`
	NumObjectiveEvaluations int                  `json:"num_objective_evaluations"`
	Timestamp               time.Time            `json:"timestamp"`
}

// NewEntry converts an iterate into a trace entry stamped with now.
func NewEntry(it spsa.Iterate, now time.Time) Entry {
	return Entry{
		Iteration:               it.Iteration,
		Position:                optimization.Floats(it.Position),
		ObjectiveValue:          optimization.Float(it.ObjectiveValue),
		PreviousObjectiveValue:  optimization.Float(it.ObjectiveValuePreviousIteration),
		LR:                      it.LR,
		Perturb:                 it.Perturb,
		Accepted:                it.Accepted,
		Converged:               it.Converged,
		NumObjectiveEvaluations: it.NumObjectiveEvaluations,
		Timestamp:               now,
	}
}

// Writer appends entries to a JSONL file. It buffers writes and is safe for
// concurrent use. Writer implements spsa.Recorder.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	now    func() time.Time
}

// Path returns the trace file location for a run under dir.
func Path(dir, runID string) string {
	return filepath.Join(dir, runID, FileName)
}

// NewWriter creates the trace file for runID under dir, truncating any
// previous trace of the same run.
func NewWriter(dir, runID string) (*Writer, error) {
	path := Path(dir, runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	return NewFileWriter(path)
}

// NewFileWriter creates (or truncates) a trace file at path.
func NewFileWriter(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &Writer{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
		now:    time.Now,
	}, nil
}

// Write appends an entry. The entry is buffered until Flush or Close.
func (w *Writer) Write(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	return nil
}

// Record implements spsa.Recorder.
func (w *Writer) Record(it spsa.Iterate) error {
	return w.Write(NewEntry(it, w.now().UTC()))
}

// Flush writes buffered entries and syncs the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered entries and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// FilePath returns the path of the trace file.
func (w *Writer) FilePath() string {
	return w.path
}

// Decode reads every entry from r.
func Decode(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var entries []Entry
	for line := 1; scanner.Scan(); line++ {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode trace line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trace: %w", err)
	}
	return entries, nil
}

// ReadFile reads every entry of the trace file at path.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

var _ spsa.Recorder = (*Writer)(nil)
