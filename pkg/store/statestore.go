package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/state"
)

// stateDirName is the per-project directory holding instance snapshots.
const stateDirName = ".workflow-state"

// StateStore persists instance snapshots under
// <projectFolder>/.workflow-state/<instanceId>.json. Writes are
// best-effort: the engine logs failures and keeps running.
type StateStore struct {
	logger *slog.Logger
}

// NewStateStore creates a state store.
func NewStateStore(logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{logger: logger}
}

// Save writes the instance snapshot. A missing project folder disables
// persistence silently.
func (s *StateStore) Save(ec *state.Context) {
	if ec.ProjectFolder == "" {
		return
	}

	dir := filepath.Join(ec.ProjectFolder, stateDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("state snapshot skipped", "instance_id", ec.InstanceID, "error", err)
		return
	}

	data, err := json.MarshalIndent(ec.Snapshot(), "", "  ")
	if err != nil {
		s.logger.Warn("state snapshot not serializable", "instance_id", ec.InstanceID, "error", err)
		return
	}

	path := filepath.Join(dir, ec.InstanceID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn("state snapshot write failed", "instance_id", ec.InstanceID, "error", err)
	}
}

// Load reads a previously saved snapshot.
func (s *StateStore) Load(projectFolder, instanceID string) (*state.Snapshot, error) {
	path := filepath.Join(projectFolder, stateDirName, instanceID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "store", "no snapshot for instance %s", instanceID)
		}
		return nil, apperrors.New(apperrors.CodeIO, "store", "reading snapshot", err)
	}

	var snap state.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperrors.New(apperrors.CodeIO, "store", "decoding snapshot", err)
	}
	return &snap, nil
}

// Delete removes an instance snapshot. Missing snapshots are a no-op.
func (s *StateStore) Delete(projectFolder, instanceID string) {
	path := filepath.Join(projectFolder, stateDirName, instanceID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("state snapshot delete failed", "instance_id", instanceID, "error", err)
	}
}
