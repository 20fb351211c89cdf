package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadNodeCredentials reads a JSON object mapping node_id to shared secret.
// Entries with a blank id or secret are rejected rather than silently
// dropped, since a half-configured credential file is an operator error.
func LoadNodeCredentials(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node credentials: %w", err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse node credentials: %w", err)
	}

	credentials := make(map[string]string, len(parsed))
	for nodeID, secret := range parsed {
		trimmedID := strings.TrimSpace(nodeID)
		trimmedSecret := strings.TrimSpace(secret)
		if trimmedID == "" || trimmedSecret == "" {
			return nil, fmt.Errorf("node credentials: empty node_id or secret in %s", path)
		}
		credentials[trimmedID] = trimmedSecret
	}
	return credentials, nil
}
