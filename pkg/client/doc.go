/*
Package client is a Go client for the AntCode master API.

The CLI uses this package for every call; it is also importable by
external tooling. All methods take a context and return typed results or
an error mapped from the API's status codes.

# Usage

	c := client.NewClient("http://master:8000", token)

	project, err := c.CreateProject(ctx, map[string]any{
		"name": "news-crawl",
		"type": "rule",
		"rule": map[string]any{"engine": "http", "config": map[string]any{"url": "https://example.com"}},
	})

	executionID, err := c.TriggerTask(ctx, taskID, nil)

	logs, err := c.ExecutionLogs(ctx, executionID, types.LogTypeOutput, 100)

Create and trigger calls accept loosely typed maps because the API
validates them server-side; read calls return the shared types structs.

# Integration Points

  - cmd/antcode: every CLI subcommand calls through this client
  - pkg/api: the server this client speaks to
*/
package client
