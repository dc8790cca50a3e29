// Package config provides centralized configuration management for the
// ReportFlow daemon, supporting environment variables and YAML configuration
// files with typed accessors for downstream services.
package config
