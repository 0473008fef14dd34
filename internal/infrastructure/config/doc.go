// Package config loads server configuration from the environment
// (envconfig) or from a YAML file named by CONFIG_FILE.
package config
