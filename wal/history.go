package wal

import (
	"encoding/json"
	"time"
)

// ScanRecord is the journal outcome of one scan pass
type ScanRecord struct {
	ScanID   string          `json:"scan_id"`
	Finished time.Time       `json:"finished"`
	Outcome  EntryType       `json:"outcome"`
	Error    string          `json:"error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// History returns the most recent finished scans, newest first. A limit of
// zero returns every recorded scan.
func History(dir string, config Config, limit int) ([]ScanRecord, error) {
	var records []ScanRecord
	err := Replay(dir, config, time.Time{}, func(e *Entry) error {
		if e.Type != EntryScanCompleted && e.Type != EntryScanFailed {
			return nil
		}
		records = append(records, ScanRecord{
			ScanID:   e.SubjectID,
			Finished: e.Timestamp,
			Outcome:  e.Type,
			Error:    e.Error,
			Result:   e.Data,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
