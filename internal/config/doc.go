// Package config handles configuration loading for toolgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Every field has a default, so an empty or missing file yields a working
// server on 0.0.0.0:8080.
//
// # Configuration File
//
// Locations (first match wins):
//
//  1. --config flag
//  2. TOOLGATE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/toolgate/config.yaml (~/.config when unset)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
// Upstream service definition files use the same expansion.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"      # MCP, health and admin API
//	  grpc_addr: ""                  # gRPC health + Tools service; empty disables
//	  shutdown_grace: "5s"
//	  session_idle_timeout: "30m"
//	  tool_timeout: "30s"            # default execution budget
//	  max_request_bytes: 4194304
//
//	database:
//	  path: ""                       # invocation and job run history; empty disables
//	  retention: "168h"              # used by the prune_history callback
//
//	scheduler:
//	  tick: "1s"
//	  default_budget: "30s"
//	  max_failures: 0                # consecutive failures before a job is cancelled; 0 = never
//
//	jobs:
//	  - name: "refresh"
//	    tool: "weather_forecast"
//	    arguments: {city: "Lisbon"}
//	    every: "15m"                 # or cron: "*/15 * * * *"
//	    budget: "10s"
//	    max_runs: 0
//	  - name: "prune"
//	    callback: "prune_history"
//	    cron: "@daily"
//
//	services:
//	  dir: "./services"              # *.json, *.yaml, *.yml, *.toml
//	  watch: true                    # reload on change
//	  retry_delay: "1s"              # initial upstream retry backoff
//
//	tailscale:
//	  enabled: false
//	  hostname: "toolgate"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(path)
//	if err != nil {
//	    return err
//	}
package config
