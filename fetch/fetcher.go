// Package fetch retrieves raw source content for the import pipeline.
package fetch

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/feed"
)

// Fetcher retrieves the raw content behind a source's origin locator.
// Implementations return errors.ErrEmptyFeed when the origin yields no
// content; the orchestrator treats that as a clean zero-item import.
type Fetcher interface {
	Fetch(ctx context.Context, source *feed.Source) (*Result, error)
}

// Result exposes fetched content as raw bytes or as a file on disk.
type Result struct {
	data []byte
	path string
}

// NewBytesResult wraps in-memory content.
func NewBytesResult(data []byte) *Result {
	return &Result{data: data}
}

// NewFileResult wraps content materialized on disk.
func NewFileResult(path string) *Result {
	return &Result{path: path}
}

// Bytes returns the full content, reading from disk when backed by a file.
func (r *Result) Bytes() ([]byte, error) {
	if r.data != nil {
		return r.data, nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read fetched file")
	}
	return data, nil
}

// Open returns a reader over the content. The caller closes it.
func (r *Result) Open() (io.ReadCloser, error) {
	if r.data != nil {
		return io.NopCloser(bytes.NewReader(r.data)), nil
	}
	f, err := os.Open(r.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open fetched file")
	}
	return f, nil
}

// Path returns the on-disk path, or empty for in-memory results.
func (r *Result) Path() string {
	return r.path
}
