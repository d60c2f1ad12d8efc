// Package store keeps the chat snapshot in a single JSON document on disk.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pairchat/models"
)

type File struct {
	mu   sync.Mutex
	path string

	readFile  func(name string) ([]byte, error)
	writeFile func(name string, data []byte) error
}

// NewFile opens the document at path. When it does not exist yet it is
// created from seed, or as an empty snapshot if seed is nil.
func NewFile(path string, seed *models.Snapshot) (*File, error) {
	f := &File{path: path, readFile: os.ReadFile, writeFile: replaceFile}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	_, err := os.Stat(path)
	switch {
	case err == nil:
		return f, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if seed == nil {
		seed = &models.Snapshot{}
	}
	if err := f.Save(context.Background(), seed); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return f, nil
}

func (f *File) Path() string { return f.path }

// Load returns ctx.Err() if ctx ends before the read completes.
func (f *File) Load(ctx context.Context) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := withContext(ctx, func() ([]byte, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.readFile(f.path)
	})
	if err != nil {
		return nil, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	snap.Normalize()
	return &snap, nil
}

// Save replaces the document. If ctx ends first Save returns ctx.Err(),
// but a write already under way still runs to completion.
func (f *File) Save(ctx context.Context, snap *models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	out := snap.Clone()
	out.Normalize()
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = withContext(ctx, func() (struct{}, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return struct{}{}, f.writeFile(f.path, data)
	})
	return err
}

// withContext runs fn in its own goroutine and stops waiting for it when
// ctx ends.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// replaceFile writes data to a temp file in the same directory and renames
// it over name.
func replaceFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".pairchat-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, name); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
