// Package config loads the configuration of the agentrelay binary from a
// YAML file, AGENTRELAY_* environment variables and defaults.
package config
