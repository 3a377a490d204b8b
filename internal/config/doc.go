// Package config resolves the daemon's file layout and optional settings.
//
// # Layout
//
// Two positional arguments select the working directory and the destination
// firewall config. Every other path is derived from them:
//
//	<directory>/*.group, *.domains      input declarations
//	<directory>/static/<file>           hand-maintained base config
//	<directory>/generated/<file>        last generated output
//	<destination>                       live config, overwritten on change
//
// # Settings
//
// An optional HCL file, <directory>/dynipsets.hcl, tunes the daemon:
//
//	poll_interval    = "15s"
//	log_level        = "info"
//	log_json         = false
//	nameservers      = ["10.0.0.1", "10.0.0.2:53"]
//	resolver_timeout = "3s"
//	metrics_listen   = "127.0.0.1:9310"
//	log_diff         = true
//
// Environment variables are available as env.NAME inside the file.
package config
