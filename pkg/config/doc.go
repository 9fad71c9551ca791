/*
Package config loads master configuration from file, environment, and defaults.

Configuration is resolved with viper in the usual precedence order:
explicit file values override environment variables override built-in
defaults. A missing file path is an error; an empty path runs on defaults
and environment alone.

# Configuration File

	server:
	  host: 0.0.0.0
	  port: 8000
	  master_url: ""        # derived when empty
	data:
	  dir: /var/lib/antcode
	log:
	  level: info
	  format: console
	queue:
	  backend: memory       # or redis
	  redis_addr: ""
	  key_prefix: antcode
	cache:
	  backend: memory
	  max_entries: 10000
	scheduler:
	  workers: 4
	  batch_size: 8
	  max_concurrent_tasks: 16
	dispatch:
	  use_websocket: false
	auth:
	  admin_user: admin

# Environment Variables

Every key is reachable as ANTCODE_ plus the path with dots replaced by
underscores:

	ANTCODE_SERVER_PORT=9100
	ANTCODE_QUEUE_BACKEND=redis
	ANTCODE_LOG_LEVEL=debug

# MasterURL Derivation

When server.master_url is empty it is derived as http://{host}:{port}.
The wildcard bind address 0.0.0.0 is not reachable by workers, so the
derivation substitutes 127.0.0.1; real deployments should set master_url
to the externally reachable address.

# Usage

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
*/
package config
