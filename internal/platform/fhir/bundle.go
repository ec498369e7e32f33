package fhir

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Entry        []BundleEntry `json:"entry"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// NewCollectionBundle wraps resources in a Bundle of type "collection".
// Resources that are already encoded are used as-is.
func NewCollectionBundle(resources []interface{}) (*Bundle, error) {
	now := time.Now().UTC()
	b := &Bundle{
		ResourceType: "Bundle",
		ID:           uuid.New().String(),
		Type:         "collection",
		Timestamp:    &now,
		Entry:        make([]BundleEntry, 0, len(resources)),
	}
	for i, r := range resources {
		raw, ok := r.(json.RawMessage)
		if !ok {
			var err error
			raw, err = json.Marshal(r)
			if err != nil {
				return nil, fmt.Errorf("encode bundle entry %d: %w", i, err)
			}
		}
		b.Entry = append(b.Entry, BundleEntry{Resource: raw})
	}
	return b, nil
}

// FormatReference returns "Type/id".
func FormatReference(resourceType, id string) string {
	return resourceType + "/" + id
}
