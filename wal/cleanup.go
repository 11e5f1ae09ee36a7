package wal

import (
	"fmt"
	"os"
	"time"
)

// CleanupStats tracks cleanup operation results
type CleanupStats struct {
	FilesRemoved  int
	BytesFreed    int64
	OldestRemoved time.Time
	NewestRemoved time.Time
}

// Cleanup removes WAL files older than the retention period
func Cleanup(dir string, config Config) (CleanupStats, error) {
	stats := CleanupStats{}
	if config.RetentionDays <= 0 {
		return stats, nil
	}

	cutoff := time.Now().AddDate(0, 0, -config.RetentionDays)
	var files []string
	for _, file := range findAllWALFiles(dir, config.FilePrefix) {
		info, err := os.Stat(file)
		if err == nil && info.ModTime().Before(cutoff) {
			files = append(files, file)
		}
	}
	if len(files) == 0 {
		return stats, nil
	}

	stats.FilesRemoved = len(files)
	stats.BytesFreed = calculateTotalSize(files)
	stats.OldestRemoved, stats.NewestRemoved = findTimeRange(files)

	for _, file := range files {
		if err := os.Remove(file); err != nil {
			return stats, fmt.Errorf("failed to remove %s: %w", file, err)
		}
	}
	return stats, nil
}

func calculateTotalSize(files []string) int64 {
	var total int64
	for _, file := range files {
		if info, err := os.Stat(file); err == nil {
			total += info.Size()
		}
	}
	return total
}

// findTimeRange returns oldest and newest file modification times
func findTimeRange(files []string) (oldest, newest time.Time) {
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if oldest.IsZero() || mod.Before(oldest) {
			oldest = mod
		}
		if mod.After(newest) {
			newest = mod
		}
	}
	return oldest, newest
}
