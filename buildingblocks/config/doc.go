// Package config loads relay settings from an optional YAML file and the
// environment. Environment variables win over the file; the tenants section
// is merged key by key.
package config
