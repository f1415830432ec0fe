package server

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// body is a decoded request object. Keeping raw values lets handlers tell
// an absent field from a zero one.
type body map[string]json.RawMessage

func (b body) has(key string) bool {
	raw, ok := b[key]
	return ok && string(raw) != "null"
}

func (b body) decode(key string, dst any) error {
	raw, ok := b[key]
	if !ok || string(raw) == "null" {
		return fmt.Errorf("missing field %q", key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid field %q: %w", key, err)
	}
	return nil
}

func (b body) str(key string) (string, error) {
	var s string
	if err := b.decode(key, &s); err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("missing field %q", key)
	}
	return s, nil
}

func (b body) optStr(key string) string {
	var s string
	if !b.has(key) {
		return ""
	}
	_ = json.Unmarshal(b[key], &s)
	return s
}

func (b body) int64(key string) (int64, error) {
	var n int64
	err := b.decode(key, &n)
	return n, err
}

func (b body) int(key string) (int, error) {
	var n int
	err := b.decode(key, &n)
	return n, err
}

func (b body) bool(key string) (bool, error) {
	var v bool
	err := b.decode(key, &v)
	return v, err
}
