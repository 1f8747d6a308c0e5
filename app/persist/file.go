package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/go-pkgz/lgr"
)

// File keeps persisted blob in a fixed file inside the cache directory
type File struct {
	location string
	fname    string
}

// NewFile makes File backend for dir/name, creates dir if missing.
// Empty name means DefaultKey + ".json".
func NewFile(dir, name string) (*File, error) {
	if name == "" {
		name = DefaultKey + ".json"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("can't make cache dir %s: %w", dir, err)
	}
	return &File{location: dir, fname: filepath.Join(dir, name)}, nil
}

// Read returns file content, ErrNotFound if file missing
func (f *File) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.fname)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("can't read %s: %w", f.fname, err)
	}
	return data, nil
}

// Write replaces file content. Data written to a temp file first and renamed,
// so readers never see a partial file.
func (f *File) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.location, filepath.Base(f.fname)+".*.tmp")
	if err != nil {
		return fmt.Errorf("can't create temp file in %s: %w", f.location, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if _, e := os.Stat(tmpName); e == nil {
			if e := os.Remove(tmpName); e != nil {
				log.Printf("[WARN] can't remove temp file %s, %v", tmpName, e)
			}
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("can't write %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("can't close %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, f.fname); err != nil {
		return fmt.Errorf("can't rename %s to %s: %w", tmpName, f.fname, err)
	}
	log.Printf("[DEBUG] state saved to %s, %d bytes", f.fname, len(data))
	return nil
}

// Remove deletes the file, missing file is fine
func (f *File) Remove(context.Context) error {
	if err := os.Remove(f.fname); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("can't remove %s: %w", f.fname, err)
	}
	return nil
}

func (f *File) String() string { return "file:" + f.fname }
