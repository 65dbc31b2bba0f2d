package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// splitParam reads a comma separated query parameter, dropping blanks.
func splitParam(q url.Values, key string) []string {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intsParam(q url.Values, key string) ([]int, error) {
	var out []int
	for _, s := range splitParam(q, key) {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", key, s)
		}
		out = append(out, v)
	}
	return out, nil
}

func intParam(q url.Values, key string, fallback int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}
