// Package jobs runs populate passes: it enumerates a table's missing keys,
// reserves each one so concurrent workers never compute the same key, and
// records failures without stopping the pass.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"ephyspipe/internal/dhash"
)

// Reserver hands out exclusive claims on (table, key hash) pairs.
type Reserver interface {
	// Reserve returns false when another worker holds the key or a recent
	// failure is still within its retry window.
	Reserve(ctx context.Context, table, keyHash string, keyData []byte) (bool, error)
	// Complete releases a key after its rows were written.
	Complete(ctx context.Context, table, keyHash string) error
	// Fail marks a key as errored so it is retried only later.
	Fail(ctx context.Context, table, keyHash string, cause error) error
}

// KeyHash hashes the JSON form of key. Object fields are flattened to text
// and hashed in name order; scalar keys hash under the field name "key".
func KeyHash(key any) (hash string, data []byte, err error) {
	data, err = json.Marshal(key)
	if err != nil {
		return "", nil, fmt.Errorf("jobs: encode key: %w", err)
	}
	var fields map[string]any
	if json.Unmarshal(data, &fields) != nil || fields == nil {
		return dhash.DictToHash(map[string]string{"key": string(data)}), data, nil
	}
	flat := make(map[string]string, len(fields))
	for k, v := range fields {
		flat[k] = text(v)
	}
	return dhash.DictToHash(flat), data, nil
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
