package config

import "context"

// SecretProvider resolves _SSM_PARAM paths to plaintext values.
type SecretProvider interface {
	// GetParametersBatch returns path -> value for every path it could
	// resolve. Missing paths are omitted rather than reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
