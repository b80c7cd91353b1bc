// Package invalidation defines the dataset-republish event consumed from
// Kafka. When a COG collection is re-published upstream, every cached tile
// rendered from it is stale and gets evicted by prefix.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"` // republish|delete
	Dataset string    `json:"dataset"`
	Region  string    `json:"region"`
	TS      time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "republish", "delete":
	default:
		return fmt.Errorf("op must be republish|delete")
	}
	if strings.TrimSpace(e.Dataset) == "" {
		return fmt.Errorf("dataset is required")
	}
	if strings.TrimSpace(e.Region) == "" {
		return fmt.Errorf("region is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// Scope identifies the collection an event targets; dedupe key.
func (e Event) Scope() string {
	return strings.TrimSpace(e.Dataset) + "|" + strings.TrimSpace(e.Region)
}
