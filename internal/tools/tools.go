// Package tools implements the retrieval tools the loop dispatcher can run:
// vector search over repair guides and blog articles, part catalog lookups,
// and repair page fetching.
package tools

import (
	"fmt"
	"strings"
)

// stringArg extracts a required string argument from a tool call.
func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("argument %q is empty", key)
	}
	return s, nil
}

// optionalStringArg extracts a string argument, tolerating absence.
func optionalStringArg(args map[string]any, key string) string {
	if raw, ok := args[key]; ok {
		if s, ok := raw.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
