// Package config loads warren configuration from YAML with ${VAR}
// environment expansion, duration parsing, and validation.
package config
