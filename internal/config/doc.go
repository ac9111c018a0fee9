// Package config loads and validates the crowdwatch-server YAML
// configuration, resolves secrets from the environment, and watches the
// config file so zone-threshold changes apply without a restart.
package config
