// Package planfile reads and writes plan files: the YAML form of a task set,
// its conditional branches and the decisions already taken.
package planfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/flow"
)

// CurrentVersion is the plan file format version written by Save.
const CurrentVersion = 1

// ErrInvalid is returned for a plan file that decodes but cannot describe a plan.
var ErrInvalid = errors.New("planfile: invalid plan")

// File is a plan as stored on disk.
type File struct {
	Version   int             `yaml:"version"`
	Name      string          `yaml:"name,omitempty"`
	Tasks     []*entity.Task  `yaml:"tasks"`
	Branches  []flow.Branch   `yaml:"branches,omitempty"`
	Decisions map[string]bool `yaml:"decisions,omitempty"`
}

// Parse decodes and validates a plan file.
func Parse(data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("planfile: payload is empty")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("planfile: decode: %w", err)
	}
	if f.Version == 0 {
		f.Version = CurrentVersion
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Read decodes a plan file from r.
func Read(r io.Reader) (*File, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("planfile: read: %w", err)
	}
	return Parse(content)
}

// Load reads a plan file from path.
func Load(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("planfile: read %s: %w", path, err)
	}
	f, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("planfile: %s: %w", path, err)
	}
	return f, nil
}

// Validate checks the structure a graph load would otherwise reject late:
// ids, dependency targets, branch members and branch conditions.
// Cycles are left to the graph engine.
func (f *File) Validate() error {
	if f.Version != CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalid, f.Version)
	}
	if len(f.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInvalid)
	}

	var errs []error
	ids := make(map[string]bool, len(f.Tasks))
	for i, t := range f.Tasks {
		switch {
		case t == nil:
			errs = append(errs, fmt.Errorf("task #%d is empty", i))
			continue
		case t.ID == "":
			errs = append(errs, fmt.Errorf("task #%d has no id", i))
			continue
		case ids[t.ID]:
			errs = append(errs, fmt.Errorf("task %s is declared twice", t.ID))
		}
		ids[t.ID] = true
	}
	for _, t := range f.Tasks {
		if t == nil {
			continue
		}
		for _, dep := range t.Temporal.Dependencies {
			if !ids[dep] {
				errs = append(errs, fmt.Errorf("task %s depends on unknown task %s", t.ID, dep))
			}
		}
	}

	branchIDs := make(map[string]bool, len(f.Branches))
	for _, b := range f.Branches {
		if b.ID == "" {
			errs = append(errs, errors.New("branch without id"))
			continue
		}
		if branchIDs[b.ID] {
			errs = append(errs, fmt.Errorf("branch %s is declared twice", b.ID))
		}
		branchIDs[b.ID] = true
		if len(b.TaskIDs) == 0 {
			errs = append(errs, fmt.Errorf("branch %s has no tasks", b.ID))
		}
		for _, id := range b.TaskIDs {
			if !ids[id] {
				errs = append(errs, fmt.Errorf("branch %s names unknown task %s", b.ID, id))
			}
		}
		if err := b.Condition.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("branch %s: %w", b.ID, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Marshal encodes the plan file as YAML.
func (f *File) Marshal() ([]byte, error) {
	out := *f
	if out.Version == 0 {
		out.Version = CurrentVersion
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("planfile: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("planfile: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the plan file to path, creating parent directories.
func (f *File) Save(path string) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("planfile: create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("planfile: write %s: %w", path, err)
	}
	return nil
}

// CloneTasks returns tasks safe to hand to the graph engine, which annotates in place.
func (f *File) CloneTasks() []*entity.Task {
	out := make([]*entity.Task, 0, len(f.Tasks))
	for _, t := range f.Tasks {
		out = append(out, t.Clone())
	}
	return out
}
