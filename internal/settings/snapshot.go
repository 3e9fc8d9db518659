package settings

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// snapshot is an immutable copy of the settings table.
type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var current atomic.Pointer[snapshot]

func init() {
	current.Store(&snapshot{values: map[string]json.RawMessage{}})
}

// Replace swaps the in-memory snapshot. Keys are trimmed and values copied.
func Replace(updatedAt time.Time, values map[string]json.RawMessage) {
	next := &snapshot{updatedAt: updatedAt.UTC(), values: make(map[string]json.RawMessage, len(values))}
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		next.values[key] = append(json.RawMessage(nil), v...)
	}
	current.Store(next)
}

// UpdatedAt returns the newest updated_at seen by the last refresh.
func UpdatedAt() time.Time {
	return current.Load().updatedAt
}

// Value returns a copy of the raw JSON stored under key.
func Value(key string) (json.RawMessage, bool) {
	val, ok := current.Load().values[strings.TrimSpace(key)]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), val...), true
}

// IntValue returns a positive integer setting, accepting JSON numbers or numeric strings.
func IntValue(key string) (int, bool) {
	raw, ok := Value(key)
	if !ok || len(raw) == 0 {
		return 0, false
	}
	var text string
	if errString := json.Unmarshal(raw, &text); errString != nil {
		var number json.Number
		if errNumber := json.Unmarshal(raw, &number); errNumber != nil {
			return 0, false
		}
		text = number.String()
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}
