// Package config loads the script engine's YAML configuration.
//
// Load starts from Default, overlays the file, then applies GRAYLOGIC_*
// environment variables and runs Validate. Keep the MQTT password and the
// InfluxDB token in the environment rather than the file.
//
// scripts.interpreters maps file extensions to binaries that run with the
// service's own privileges; treat the file as sensitive.
package config
