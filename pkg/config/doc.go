// Package config loads service configuration from ACCESSDESK_* environment
// variables, optionally overlaid on a YAML file named by
// ACCESSDESK_CONFIG_FILE. Environment values take precedence.
package config
