package storage

import (
	"encoding/json"
	"fmt"

	"github.com/learnpulse/learnpulse/internal/core"
)

// Current schema version. Bumped when a stored record's shape changes
// in a way the migration hooks below must handle.
const schemaVersion = 1

// envelope wraps every stored record with its schema version so old
// databases can be read after the record shape evolves.
type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

func marshalRecord(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return json.Marshal(envelope{SchemaVersion: schemaVersion, Payload: payload})
}

func unmarshalRecord(data []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMigrationFailed, err)
	}
	if env.SchemaVersion > schemaVersion {
		return fmt.Errorf("%w: record schema %d is newer than supported %d",
			core.ErrMigrationFailed, env.SchemaVersion, schemaVersion)
	}
	// Version 0 records (pre-envelope) are not possible: every write
	// goes through marshalRecord. Future versions add migration steps here.
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMigrationFailed, err)
	}
	return nil
}
