/*
Package projectsync plans how project content reaches worker nodes.

Before a batch is dispatched, every distinct project in it needs its
content present on the target node. The syncer compares the project's
current hash against what the node last received and picks the cheapest
transfer method. The plan travels inside the task envelope; the worker
performs the actual byte movement.

# Transfer Methods

	method        when                                payload
	skipped       node already holds the hash         none
	code          code project, hash changed          source inline
	original      file project, first sync or         full archive via
	              too many files changed              DownloadURL
	incremental   file project, under half the        changed paths via
	              files changed                       DownloadURL

Rule projects carry their configuration inline in the envelope and never
need a transfer.

An incremental transfer is only planned when changed*2 < total files;
otherwise shipping the full archive is cheaper than many small requests.
Per-file hashes recorded at sync time feed the next round's delta.

# Failure Handling

MarkFailed flags the node/project pair as failed, which forces a full
resync on the next round instead of trusting the recorded per-file state.
Invalidate drops every node's copy state for a project after its content
changes.

# Usage

	syncer := projectsync.NewSyncer(mgr, cfg.Server.MasterURL)

	plan, err := syncer.EnsureSynced(ctx, node, project)
	if err != nil {
		syncer.MarkFailed(node.ID, project.PublicID, err)
		return err
	}
	// plan.Code, plan.DownloadURL, plan.Paths feed the envelope

# Integration Points

  - pkg/dispatch: one EnsureSynced per distinct project per batch
  - pkg/api: the archive download endpoint serves plan.DownloadURL
  - pkg/manager: per-node sync records and file hash bookkeeping
*/
package projectsync
