package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"tread-depth/internal/storage"

	"golang.org/x/sync/errgroup"
)

// Artifact is a serialized network fetched from blob storage at startup.
type Artifact struct {
	Name      string
	Blob      string
	LocalPath string
}

type FetchOptions struct {
	// SkipExisting keeps a non-empty file already at LocalPath instead of
	// downloading it again.
	SkipExisting bool
}

// FetchArtifacts downloads every artifact concurrently and returns the first error.
func FetchArtifacts(ctx context.Context, store storage.BlobStore, container string, opts FetchOptions, artifacts ...Artifact) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, artifact := range artifacts {
		g.Go(func() error {
			if opts.SkipExisting {
				if info, err := os.Stat(artifact.LocalPath); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
					slog.Info("using cached model artifact", "name", artifact.Name, "path", artifact.LocalPath, "bytes", info.Size())
					return nil
				}
			}

			start := time.Now()
			if err := store.DownloadBlob(ctx, container, artifact.Blob, artifact.LocalPath); err != nil {
				return fmt.Errorf("error fetching %s model artifact '%s': %w", artifact.Name, artifact.Blob, err)
			}

			slog.Info("fetched model artifact", "name", artifact.Name, "container", container, "blob", artifact.Blob, "path", artifact.LocalPath, "duration", time.Since(start))
			return nil
		})
	}

	return g.Wait()
}
