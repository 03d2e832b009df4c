package storage

import (
	"context"
	"encoding/json"
)

// GetJSON decodes the value under key into out.
// A missing key reports ok=false with a nil error.
func GetJSON(ctx context.Context, kv KV, key string, out any) (bool, error) {
	b, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return true, wrap("decode", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return wrap("encode", key, err)
	}
	return kv.Set(ctx, key, b)
}
