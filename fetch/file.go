package fetch

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-getter"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/feed"
)

// FileFetcherID registers the file fetcher in the fetcher registry.
const FileFetcherID = "file"

// FileFetcher retrieves source content from a filesystem path or any
// locator go-getter understands (git, s3, archives). Directory origins
// yield the contained regular files concatenated in sorted path order,
// which keeps repeated fetches of the same tree deterministic.
type FileFetcher struct {
	workDir string
}

// NewFileFetcher creates a file fetcher. workDir holds materialized
// downloads; empty means the system temp directory.
func NewFileFetcher(workDir string) *FileFetcher {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &FileFetcher{workDir: workDir}
}

// Fetch materializes the origin locally and returns its content.
func (f *FileFetcher) Fetch(ctx context.Context, source *feed.Source) (*Result, error) {
	dst, err := os.MkdirTemp(f.workDir, "quarry-fetch-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fetch directory")
	}
	defer os.RemoveAll(dst)

	client := &getter.Client{
		Ctx:  ctx,
		Src:  source.Origin,
		Dst:  dst,
		Mode: getter.ClientModeAny,
	}
	if err := client.Get(); err != nil {
		return nil, errors.Wrapf(err, "failed to retrieve %q", source.Origin)
	}

	files, err := collectFiles(dst)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyFeed, "origin %q yielded no files", source.Origin)
	}

	var buf bytes.Buffer
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read fetched file %q", path)
		}
		buf.Write(data)
	}

	if buf.Len() == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyFeed, "origin %q yielded no content", source.Origin)
	}
	return NewBytesResult(buf.Bytes()), nil
}

func collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to walk fetched files")
	}
	sort.Strings(files)
	return files, nil
}
