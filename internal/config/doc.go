// Package config defines run settings shared by every pipeline stage and
// provides helpers to load and validate them from a YAML file.
//
// The Config type holds the artifact store URL, the toolchains directory,
// network options and worker pool limits.
package config
