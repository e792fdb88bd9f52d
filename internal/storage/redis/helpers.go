package redis

import (
	"encoding/json"
	"fmt"

	"github.com/goodtune/mindful/internal/storage"
)

// parseLimits converts the limits hash to storage.Limits
func parseLimits(data map[string]string) (storage.Limits, error) {
	limits := make(storage.Limits, len(data))
	for hostname, raw := range data {
		var record storage.LimitRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("failed to parse limit record for %s: %w", hostname, err)
		}
		limits[hostname] = record
	}
	return limits, nil
}

// limitArgs flattens limits into hostname/record pairs for replaceLimitsScript
func limitArgs(limits storage.Limits) ([]interface{}, error) {
	args := make([]interface{}, 0, len(limits)*2)
	for hostname, record := range limits {
		raw, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("failed to encode limit record for %s: %w", hostname, err)
		}
		args = append(args, hostname, string(raw))
	}
	return args, nil
}

// changeMessage is published on the change channel after every write.
// Origin identifies the Store that made the write.
type changeMessage struct {
	Key    string          `json:"key"`
	Origin string          `json:"origin,omitempty"`
	Value  json.RawMessage `json:"value"`
}

// parseChange decodes a change channel payload and returns the writer's origin
func parseChange(payload string) (storage.Change, string, error) {
	var msg changeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return storage.Change{}, "", fmt.Errorf("failed to decode change message: %w", err)
	}

	change := storage.Change{Key: msg.Key}
	switch msg.Key {
	case storage.KeyLimits:
		limits, err := storage.UnmarshalLimits(msg.Value)
		if err != nil {
			return storage.Change{}, "", err
		}
		change.Limits = limits
	case storage.KeyQuotes:
		quotes, err := storage.UnmarshalQuotes(msg.Value)
		if err != nil {
			return storage.Change{}, "", err
		}
		change.Quotes = quotes
	default:
		return storage.Change{}, "", fmt.Errorf("unknown change key: %q", msg.Key)
	}

	return change, msg.Origin, nil
}
