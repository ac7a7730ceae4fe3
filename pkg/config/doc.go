// Package config defines the gatehouse daemon configuration.
//
// Configuration layers, later layers winning:
//
//  1. Built-in defaults (DefaultConfig)
//  2. The YAML configuration file
//  3. GATEHOUSE_* environment variables
//
// Load applies all three, then validates. Sections mirror the subsystems:
// server, store, registry, webhook, audit, logging, metrics.
//
// # Example
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//	store:
//	  backend: sqlite
//	  path: /var/lib/gatehouse/usage.db
//	registry:
//	  path: /etc/gatehouse/registry.yaml
//	  watch: true
//	audit:
//	  enabled: true
//	  path: /var/lib/gatehouse/audit.db
package config
