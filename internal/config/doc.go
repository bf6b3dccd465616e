// Package config provides YAML configuration loading and validation for the
// Mix2Go streamer. Every section has defaults, so a config file only needs to
// name the values it changes.
package config
