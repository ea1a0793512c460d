// Package config loads and validates HisSrv configuration.
//
// Configuration is layered: hardcoded defaults, then the YAML file,
// then HISSRV_* environment variable overrides. An invalid configuration
// at startup is fatal; the service must not begin ingesting without one.
//
// The reloadable point rule file is separate (see internal/rules) so that
// rule changes do not require touching connection settings.
package config
