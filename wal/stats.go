package wal

import (
	"errors"
	"time"
)

// Stats represents WAL statistics
type Stats struct {
	TotalFiles     int
	TotalSizeBytes int64
	OldestFile     time.Time
	NewestFile     time.Time
	FirstSequence  int64
	LastSequence   int64
}

// GetStats returns statistics for the open WAL
func (w *WAL) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := GetStatsFromDir(w.dir, w.config)
	stats.LastSequence = w.sequence
	return stats
}

// GetStatsFromDir returns statistics for a WAL directory (no active WAL needed)
func GetStatsFromDir(dir string, config Config) Stats {
	files := findAllWALFiles(dir, config.FilePrefix)
	if len(files) == 0 {
		return Stats{}
	}

	stats := Stats{
		TotalFiles:     len(files),
		TotalSizeBytes: calculateTotalSize(files),
		LastSequence:   findLastSequenceInFiles(files),
	}
	stats.OldestFile, stats.NewestFile = findTimeRange(files)
	stats.FirstSequence = findFirstSequenceInFiles(files)
	return stats
}

// findFirstSequenceInFiles returns the first sequence of the first non-empty file
func findFirstSequenceInFiles(files []string) int64 {
	for _, file := range files {
		reader, err := NewReader(file)
		if err != nil {
			continue
		}
		entry, err := reader.Next()
		_ = reader.Close()
		if err == nil {
			return entry.Sequence
		}
	}
	return 0
}

// findLastSequenceInFiles finds the highest sequence across files
func findLastSequenceInFiles(files []string) int64 {
	maxSeq := int64(0)
	for _, file := range files {
		if seq := getMaxSequenceFromFile(file); seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq
}

// getMaxSequenceFromFile skips corrupted lines
func getMaxSequenceFromFile(path string) int64 {
	reader, err := NewReader(path)
	if err != nil {
		return 0
	}
	defer func() { _ = reader.Close() }()

	maxSeq := int64(0)
	for {
		entry, err := reader.Next()
		if errors.Is(err, ErrCorruptEntry) {
			continue
		}
		if err != nil {
			break
		}
		if entry.Sequence > maxSeq {
			maxSeq = entry.Sequence
		}
	}
	return maxSeq
}
