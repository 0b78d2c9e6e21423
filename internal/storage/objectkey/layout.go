// Package objectkey maps cache generations onto flat object-store keys.
//
// A generation named "shell-v1" under prefix "taskshell/" owns every key
// beginning with "taskshell/shell-v1/". The marker object
// "taskshell/shell-v1/.generation" makes an empty generation visible.
package objectkey

import (
	"fmt"
	"path"
	"strings"
)

// MarkerName is the object written when a generation is opened.
const MarkerName = ".generation"

const entryExt = ".json"

// Layout derives keys under a normalized prefix.
type Layout struct {
	prefix string
}

// New normalizes prefix to either "" or a value ending in "/".
func New(prefix string) Layout {
	p := strings.Trim(prefix, "/")
	if p != "" {
		p += "/"
	}
	return Layout{prefix: p}
}

// Prefix returns the normalized prefix.
func (l Layout) Prefix() string {
	return l.prefix
}

// ValidateName rejects names that would escape or split a generation.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("cache name is required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid cache name %q", name)
	}
	return nil
}

// Generation returns the key prefix owned by name.
func (l Layout) Generation(name string) string {
	return l.prefix + name + "/"
}

// Marker returns the marker key for name.
func (l Layout) Marker(name string) string {
	return l.Generation(name) + MarkerName
}

// Entry returns the key for a hashed URL inside name.
func (l Layout) Entry(name, digest string) string {
	return l.Generation(name) + digest + entryExt
}

// IsEntry reports whether key is an entry object.
func (l Layout) IsEntry(key string) bool {
	return strings.HasSuffix(key, entryExt) && path.Base(key) != MarkerName
}

// NameFromMarker extracts the generation name from a marker key.
func (l Layout) NameFromMarker(key string) (string, bool) {
	if !strings.HasPrefix(key, l.prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(key, l.prefix)
	if !strings.HasSuffix(rest, "/"+MarkerName) {
		return "", false
	}
	rest = strings.TrimSuffix(rest, "/"+MarkerName)
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
