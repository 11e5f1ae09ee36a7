package wal

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scanData struct {
	Findings int `json:"findings"`
}

func TestWAL_AppendAndRead(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, w.Append(EntryScanStarted, "scan-1", nil))
	require.NoError(t, w.AppendError(EntryScanFailed, "scan-1", scanData{Findings: 3}, errors.New("insert failed")))
	require.NoError(t, w.Close())

	files := findAllWALFiles(dir, "surface")
	require.Len(t, files, 1)

	reader, err := NewReader(files[0])
	require.NoError(t, err)
	defer reader.Close()

	first, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, EntryScanStarted, first.Type)
	assert.Equal(t, "scan-1", first.SubjectID)

	second, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, "insert failed", second.Error)

	var data scanData
	require.NoError(t, json.Unmarshal(second.Data, &data))
	assert.Equal(t, 3, data.Findings)

	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestWAL_SequenceContinuesAfterReopen(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, w.Append(EntryScanStarted, "a", nil))
	require.NoError(t, w.Append(EntryScanCompleted, "a", nil))
	require.NoError(t, w.Close())

	w, err = Open(dir, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, w.Append(EntryScanStarted, "b", nil))

	stats := w.GetStats()
	assert.Equal(t, int64(3), stats.LastSequence)
	assert.Equal(t, int64(1), stats.FirstSequence)
	assert.Equal(t, 2, stats.TotalFiles)
	require.NoError(t, w.Close())
}

func TestWAL_Rotation(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{FilePrefix: "surface", MaxFileSize: 64}

	w, err := Open(dir, cfg)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(EntryScanCompleted, "scan", scanData{Findings: i}))
	}
	require.NoError(t, w.Close())

	assert.Len(t, findAllWALFiles(dir, "surface"), 3)

	var seqs []int64
	require.NoError(t, Replay(dir, cfg, time.Time{}, func(e *Entry) error {
		seqs = append(seqs, e.Sequence)
		return nil
	}))
	assert.Equal(t, []int64{1, 2, 3}, seqs)
}

func TestReplay_Since(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, DefaultConfig())
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return base }
	require.NoError(t, w.Append(EntryScanStarted, "old", nil))
	w.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, w.Append(EntryScanStarted, "new", nil))
	require.NoError(t, w.Close())

	var seen []string
	require.NoError(t, Replay(dir, DefaultConfig(), base, func(e *Entry) error {
		seen = append(seen, e.SubjectID)
		return nil
	}))
	assert.Equal(t, []string{"new"}, seen)
}

func TestHistory(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, w.Append(EntryScanStarted, "s1", nil))
	require.NoError(t, w.Append(EntryScanCompleted, "s1", scanData{Findings: 1}))
	require.NoError(t, w.Append(EntryScanStarted, "s2", nil))
	require.NoError(t, w.AppendError(EntryScanFailed, "s2", nil, errors.New("store down")))
	require.NoError(t, w.Append(EntryScanStarted, "s3", nil))
	require.NoError(t, w.Append(EntryScanCompleted, "s3", scanData{Findings: 2}))
	require.NoError(t, w.Close())

	records, err := History(dir, DefaultConfig(), 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "s3", records[0].ScanID)
	assert.Equal(t, EntryScanCompleted, records[0].Outcome)
	assert.Equal(t, "s2", records[1].ScanID)
	assert.Equal(t, "store down", records[1].Error)

	all, err := History(dir, DefaultConfig(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetStatsFromDir_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"sequence":4,"type":"scan_started","timestamp":"2025-01-01T00:00:00Z","data":null}
not json
{"sequence":9,"type":"scan_completed","timestamp":"2025-01-01T00:00:01Z","data":null}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "surface-20250101-000000-0000000000.wal"), []byte(content), 0644))

	stats := GetStatsFromDir(dir, DefaultConfig())
	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, int64(4), stats.FirstSequence)
	assert.Equal(t, int64(9), stats.LastSequence)

	err := Replay(dir, DefaultConfig(), time.Time{}, func(*Entry) error { return nil })
	assert.ErrorIs(t, err, ErrCorruptEntry)
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "surface-20200101-000000-0000000000.wal")
	fresh := filepath.Join(dir, "surface-20990101-000000-0000000000.wal")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0644))
	require.NoError(t, os.WriteFile(fresh, []byte("{}\n"), 0644))

	past := time.Now().AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(old, past, past))

	stats, err := Cleanup(dir, Config{FilePrefix: "surface", RetentionDays: 30})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.Equal(t, int64(3), stats.BytesFreed)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}
