package datasources

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// JSONFile is a single JSON document on disk. Writes go through temp -> fsync -> rename,
// so readers never observe a half-written file. Access from one process is serialized by mu.
type JSONFile struct {
	Path   string
	Logger log.Logger

	mu  sync.Mutex
	now func() time.Time
}

func NewJSONFile(path string, logger log.Logger) *JSONFile {
	return &JSONFile{Path: path, Logger: logger, now: time.Now}
}

// Load decodes the file into v, which must be a non-nil pointer. A missing file leaves v
// untouched. A file that cannot be decoded is moved aside to <path>.corrupt-<unix> and v is
// left untouched as well, even when decoding failed halfway through.
func (f *JSONFile) Load(v any) error {
	target := reflect.ValueOf(v)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return errors.Errorf("load %s: target must be a non-nil pointer, got %T", f.Path, v)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "read %s", f.Path)
	}
	if len(data) == 0 {
		return nil
	}

	decoded := reflect.New(target.Elem().Type())
	if err := json.Unmarshal(data, decoded.Interface()); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", f.Path, f.now().Unix())
		level.Warn(f.Logger).Log("msg", "corrupt json file moved aside", "path", f.Path, "moved_to", aside, "err", err)
		if rerr := os.Rename(f.Path, aside); rerr != nil {
			return errors.Wrapf(rerr, "move corrupt file %s", f.Path)
		}
		return nil
	}
	target.Elem().Set(decoded.Elem())
	return nil
}

// Save encodes v and atomically replaces the file.
func (f *JSONFile) Save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode json")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "rename into %s", f.Path)
	}
	return nil
}
