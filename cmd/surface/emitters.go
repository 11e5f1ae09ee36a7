package main

import (
	"context"
	"fmt"

	"github.com/yairfalse/surface/internal/config"
	"github.com/yairfalse/surface/internal/emitter"
)

// newArchiveEmitter connects the findings archive when enabled; nil otherwise
func newArchiveEmitter(ctx context.Context, ac config.ArchiveConfig) (*emitter.ArchiveEmitter, error) {
	if !ac.Enabled {
		return nil, nil
	}
	client, err := emitter.NewMinioClient(ac)
	if err != nil {
		return nil, fmt.Errorf("connect archive: %w", err)
	}
	archive := emitter.NewArchiveEmitter(client, ac.Bucket, ac.Prefix, logger)
	if err := archive.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("prepare archive bucket: %w", err)
	}
	return archive, nil
}
