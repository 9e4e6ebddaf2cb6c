// Package config provides centralized configuration management for the
// pantryd runtime. It loads a YAML file, fills in defaults for everything the
// operator left out, and hands typed sections to the server, storage, queue
// and agent wiring in cmd/pantryd.
package config
