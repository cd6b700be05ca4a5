// Package config handles configuration loading for fluxmind.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Missing values fall back to defaults and the result is validated
// before it is returned.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FLUXMIND_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/fluxmind/config.yaml
//  3. ~/.config/fluxmind/config.yaml
//
// A path ending in .toml is decoded as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	generation:
//	  gemini_project: "${GOOGLE_CLOUD_PROJECT}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax, plus a whole-day "d" suffix:
//
//	archiver:
//	  interval: "1h"
//	  retention: "30d"
//
// # Configuration Sections
//
//	database:
//	  path: "fluxmind.db"
//
//	bus:
//	  driver: "memory"              # memory, kafka
//	  brokers: ["localhost:9092"]   # required for kafka
//	  topic: "conversation-events"
//	  group_id: "fluxmind-events-consumer"
//	  partitions: 8                 # memory bus only
//	  redelivery_delay: "1s"        # memory bus only
//	  max_redeliveries: 5
//
//	generation:
//	  provider: "ollama"            # ollama, gemini, echo
//	  base_url: "http://localhost:11434"
//	  model: "llama3.1"
//	  timeout: "60s"
//	  history_limit: 0              # 0 sends the whole conversation
//	  gemini_project: ""
//	  gemini_location: "us-central1"
//
//	archiver:
//	  interval: "1h"
//	  retention: "30d"
//	  batch_size: 100               # at most 100
//
//	analytics:
//	  dedupe: true
//	  dedupe_window: "24h"
//	  dedupe_capacity: 100000
//
//	responder:
//	  append_retries: 3
//
//	health:
//	  grpc_addr: ""                 # empty disables the health endpoint
//
//	logging:
//	  level: "info"                 # debug, info, warn, error
//	  format: "text"                # text, json
package config
