// Package progress turns harness counters into periodic throughput reports
// and persists a resume point for interrupted loads.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
)

// Checkpoint persists the last input offset known to be fully processed.
// The file holds a single JSON object, {"last_index": N}, overwritten on
// every report tick and once more on the way out. A restarted load reads it
// and resumes from that offset; records in flight at the time of the crash
// are written again, which is harmless because puts are keyed.
type Checkpoint struct {
	Path string // "" disables checkpointing
}

type checkpointState struct {
	LastIndex int64 `json:"last_index"`
}

// Save overwrites the checkpoint file. Write-then-rename keeps a crash from
// leaving a torn file behind. Callers treat errors as warnings; a lost
// checkpoint only costs re-sent records.
func (c Checkpoint) Save(lastIndex int64) error {
	if c.Path == "" {
		return nil
	}

	data, err := json.Marshal(checkpointState{LastIndex: lastIndex})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.Path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Load reads the saved offset. A missing, unreadable, or corrupt file means
// a fresh start, never an error.
func (c Checkpoint) Load() (int64, bool) {
	if c.Path == "" {
		return 0, false
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		return 0, false
	}

	var state checkpointState
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, false
	}
	if state.LastIndex < 0 {
		return 0, false
	}
	return state.LastIndex, true
}
