package laps

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Identity describes one worker process to the backend. Name and Version
// select the work queue the worker serves; WorkerIndex distinguishes
// parallel processes of the same module and only ever appears in log
// records. An Identity is immutable once the runner starts.
type Identity struct {
	Name        string
	Version     string
	WorkerIndex int
}

// identityToken is the canonical wire form of an Identity. The backend
// compares tokens structurally, so the shape must stay stable.
type identityToken struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MarshalJSON serializes the identity to its canonical token,
// {"name":...,"version":...}. The worker index is process-local and not
// part of the token, so every process of a module produces the same
// token.
func (id Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(identityToken{Name: id.Name, Version: id.Version})
}

// UnmarshalJSON decodes a canonical token. The worker index is not part
// of the token and is left untouched.
func (id *Identity) UnmarshalJSON(data []byte) error {
	var tok identityToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return err
	}
	id.Name = tok.Name
	id.Version = tok.Version
	return nil
}

// Token returns the serialized registration token. The same token is
// pushed at registration and as the shutdown notice.
func (id Identity) Token() (string, error) {
	data, err := json.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("failed to serialize identity: %w", err)
	}
	return string(data), nil
}

// Validate checks that the identity can be announced to the backend.
func (id Identity) Validate() error {
	if id.Name == "" {
		return errors.New("module name must not be empty")
	}
	if id.Version == "" {
		return errors.New("module version must not be empty")
	}
	if id.WorkerIndex < 0 {
		return fmt.Errorf("worker index must not be negative, got %d", id.WorkerIndex)
	}
	return nil
}

// String renders the identity the way it appears in log messages.
func (id Identity) String() string {
	return fmt.Sprintf("%s %s", id.Name, id.Version)
}
