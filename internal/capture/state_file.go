package capture

import (
	"encoding/json"
	"os"
)

// SaveState persists a track's resumable-download sidecar to disk, matching
// Info.go:SaveState. A no-op when the state has no backing file path, which
// is the case until capture has actually produced a working directory.
func SaveState(state *DownloadState) error {
	if state == nil || state.File == "" {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return os.WriteFile(state.File, data, 0644)
}

// LoadState reads a previously-saved sidecar, returning a zero-value state
// (not an error) when the file does not exist, so a first run and a resumed
// run share the same call site.
func LoadState(path string) (*DownloadState, error) {
	state := &DownloadState{File: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	state.File = path
	return state, nil
}
