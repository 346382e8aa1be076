// Package config handles loading and validating Allokapri Workspace Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with ALLOKAPRI_* environment variables
//   - Validation of required fields and duration strings
//   - Default value handling, including the development-only signing secret
//
// Security Considerations:
//   - Sensitive values (JWT secret, seed password, tokens) should be set via environment variables
//   - environment defaults to "production", which refuses to start without a real secret
//   - The development secret is only applied when environment is "development"
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ttl := cfg.Security.JWT.AccessTTL()
package config
