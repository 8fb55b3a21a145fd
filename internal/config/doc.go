// Package config handles configuration loading for chord.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	bot:
//	  token: "${CHORD_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	api:
//	  request_timeout: "30s"
//	voice:
//	  silence_timeout: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Bot identity:
//
//	bot:
//	  token: "${CHORD_TOKEN}"
//	  intents: 33281
//
// REST API:
//
//	api:
//	  base_url: ""            # default production endpoint when empty
//	  request_timeout: "30s"
//
// Gateway:
//
//	gateway:
//	  url: ""                 # default from GET /gateway/bot when empty
//	  shard_count: 0          # 0 = recommended count from the gateway
//	  shard_ids: []           # empty = all shards in [0, count)
//
// Voice:
//
//	voice:
//	  enabled: true
//	  silence_timeout: "30s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Token presence
//   - Shard id ranges against shard_count
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/chord/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
