package config

import "context"

// SecretProvider resolves secret pointers to plaintext: AWS SSM Parameter
// Store in deployed environments, the process environment locally.
type SecretProvider interface {
	// GetParametersBatch returns key -> plaintext for every key it could
	// resolve. Missing keys are omitted rather than reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
