package storage

import (
	"fmt"
	"strings"
)

// ConnectionParams holds the Key=Value pairs of a connection string. Keys are
// matched case-insensitively.
type ConnectionParams map[string]string

func ParseConnectionString(s string) (ConnectionParams, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("connection string is empty")
	}

	params := make(ConnectionParams)
	for _, segment := range strings.Split(s, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			return nil, fmt.Errorf("invalid connection string segment '%s': expected Key=Value", segment)
		}

		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid connection string segment '%s': empty key", segment)
		}

		params[strings.ToLower(key)] = strings.TrimSpace(value)
	}

	if len(params) == 0 {
		return nil, fmt.Errorf("connection string has no Key=Value pairs")
	}

	return params, nil
}

func (p ConnectionParams) Get(key string) string {
	return p[strings.ToLower(key)]
}
