package queue

import (
	"encoding/json"
	"fmt"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

func marshalMetadata(m store.JobMetadata) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalMetadata decodes a Job's Metadata column back into its typed
// shape. Exported so the Worker can decode a claimed job without importing
// encoding/json wiring of its own.
func UnmarshalMetadata(raw string) (store.JobMetadata, error) {
	var m store.JobMetadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return store.JobMetadata{}, fmt.Errorf("queue: failed to unmarshal job metadata: %w", err)
	}
	return m, nil
}
