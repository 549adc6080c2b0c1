package secrets

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resolver resolves a configuration key to its value.
type Resolver interface {
	Lookup(key string) (string, bool)
}

// Loader produces a full key/value snapshot.
type Loader interface {
	Load() (map[string]string, error)
}

// EnvSource is a copy of the process environment taken once.
type EnvSource map[string]string

// SnapshotEnv copies os.Environ into an EnvSource.
func SnapshotEnv() EnvSource {
	env := os.Environ()
	snapshot := make(EnvSource, len(env))
	for _, entry := range env {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		snapshot[key] = value
	}
	return snapshot
}

// Lookup implements Resolver.
func (s EnvSource) Lookup(key string) (string, bool) {
	value, ok := s[key]
	return value, ok
}

// Load implements Loader.
func (s EnvSource) Load() (map[string]string, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// FileSource reads a flat YAML mapping of KEY: value pairs. The file is read
// on every Load so rotated credentials are picked up.
//
//	SENDGRID_API_KEY: SG.xxxx
//	SLACK_BOT_TOKEN: xoxb-xxxx
type FileSource struct {
	path string
}

// NewFileSource returns a FileSource reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load implements Loader.
func (f *FileSource) Load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	values := make(map[string]string, len(raw))
	for key, value := range raw {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.TrimSpace(value)
	}
	return values, nil
}

// Chain consults resolvers in order; the first non-empty value wins.
type Chain []Resolver

// Lookup implements Resolver.
func (c Chain) Lookup(key string) (string, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if value, ok := r.Lookup(key); ok && strings.TrimSpace(value) != "" {
			return value, true
		}
	}
	return "", false
}
