// Package config loads and hot-reloads the engine's singleton
// configuration document (scheduler timing, grace-period default, global
// auto-approve toggle) from a YAML file, watched with fsnotify so Scheduler
// jobs can be rebound on change without a restart (spec §4.J, §9).
package config
