package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LocalBlobStore keeps blobs at <baseDir>/<container>/<blob>.
type LocalBlobStore struct {
	baseDir string
}

var _ BlobStore = (*LocalBlobStore)(nil)

func NewLocalBlobStore(dir string) (*LocalBlobStore, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}

	return &LocalBlobStore{baseDir: baseDir}, nil
}

func (s *LocalBlobStore) blobPath(container, blob string) (string, error) {
	path := filepath.Join(s.baseDir, container, blob)
	if !strings.HasPrefix(path, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("blob path %s/%s escapes storage root", container, blob)
	}
	return path, nil
}

func (s *LocalBlobStore) DownloadBlob(ctx context.Context, container, blob, dest string) error {
	src, err := s.blobPath(container, blob)
	if err != nil {
		return err
	}

	file, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, blob)
		}
		return fmt.Errorf("failed to open blob %s/%s: %w", container, blob, err)
	}
	defer file.Close()

	err = writeFileAtomic(dest, func(f *os.File) error {
		if _, err := io.Copy(f, file); err != nil {
			return fmt.Errorf("failed to copy blob %s/%s to %s: %w", container, blob, dest, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("blob copied successfully", "container", container, "blob", blob, "dest", dest)
	return nil
}

func (s *LocalBlobStore) PutBlob(ctx context.Context, container, blob string, data io.Reader) error {
	path, err := s.blobPath(container, blob)
	if err != nil {
		return err
	}

	err = writeFileAtomic(path, func(f *os.File) error {
		if _, err := io.Copy(f, data); err != nil {
			return fmt.Errorf("failed to write blob %s/%s: %w", container, blob, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("blob stored successfully", "container", container, "blob", blob, "path", path)
	return nil
}
