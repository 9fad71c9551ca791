/*
Package api implements the AntCode master's HTTP surface.

The server exposes three route groups on one gin engine: the
token-authenticated user API, the secret-key-authenticated node report
API, and a small unauthenticated set (health, metrics, install claim,
archive download). Websocket endpoints stream events and execution logs.
The package also owns the execution log store that both APIs write into.

# Route Groups

Unauthenticated:

	GET  /health                       liveness
	GET  /metrics                      Prometheus collectors
	POST /api/install/claim            node bootstrap, consumes an install key
	GET  /api/projects/:id/archive     worker content pulls (hash checked)

User API (Bearer token):

	/api/projects                      CRUD, owner scoped
	/api/tasks                         CRUD, trigger, execution listing
	/api/executions/:id                read, cancel, logs, checkpoint
	/api/queue                         status, reprioritise, cancel
	/api/nodes                         read, connect, disconnect, stats
	                                   for all users; create, update,
	                                   delete, rebind, permissions
	                                   admin only
	/api/install-keys                  admin only
	/api/users                         create admin only; /users/me for all
	/api/audit                         admin only
	/api/ws/events                     websocket event stream
	/api/ws/executions/:id/logs        websocket log stream

Node report API (node secret):

	POST /api/node/report-log          single log fragment
	POST /api/node/report-logs-batch   batched fragments
	POST /api/node/report-heartbeat    metrics push
	POST /api/node/report-task         execution result

# Error Mapping

apiError translates the types error taxonomy onto status codes:

	ErrNotFound             404
	ErrConflict             409
	ErrValidation           400
	ErrPermission           403
	NodeUnavailableError    503 with the placement reason
	ErrQueueUnavailable     503

Authentication failures are 401; authenticated users lacking a role or
ownership get 403.

# Log Store

LogStore appends execution log lines to per-execution, per-stream files
under the data directory and serves tail reads. Execution ids are
sanitised to their safe characters so a crafted id cannot escape the log
directory.

# Usage

	server := api.NewServer(api.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
		mgr, reg, bal, sched, disp, cps, verifier, keys)
	go server.Run()
	defer server.Shutdown(ctx)

Tests drive the router directly:

	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

# Integration Points

  - pkg/manager: all state reads and writes
  - pkg/scheduler: trigger, cancel, queue management
  - pkg/checkpoint: worker checkpoint and heartbeat reports
  - pkg/events: websocket fan-out
  - pkg/auth: token verification and install-key claims
*/
package api
