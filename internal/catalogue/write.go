package catalogue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Encode serializes the document deterministically: map keys sorted, four
// space indentation, markup left unescaped, trailing newline.
func (d *Document) Encode() ([]byte, error) {
	top := make(map[string]any, len(d.rest)+1)
	for k, v := range d.rest {
		top[k] = v
	}
	top[d.Key] = d.Symbols

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(top); err != nil {
		return nil, fmt.Errorf("cannot encode catalogue: %w", err)
	}
	return buf.Bytes(), nil
}

// PersistIfChanged writes the document back to its path when changed > 0.
// With nothing changed it performs no I/O at all.
//
// The file is replaced in one rename so readers never observe a partial
// document; on failure the previous contents stay in place.
func (d *Document) PersistIfChanged(changed int) error {
	if changed <= 0 {
		return nil
	}
	b, err := d.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := writeFileAtomic(d.Path, b); err != nil {
		return fmt.Errorf("%w: cannot write %s: %v", ErrWrite, d.Path, err)
	}
	return nil
}

// writeFileAtomic writes data to a sibling temp file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
