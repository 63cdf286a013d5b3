// Package sandbox implements the sandbox lifecycle on top of the record
// store and the container runtime.
//
// # Provisioner
//
// Provisioner.Provision returns an owner's running sandbox:
//
//	p := sandbox.NewProvisioner(store, rt, validator, teardown,
//	    sandbox.WithVisitorTTL(time.Hour))
//
//	rec, err := p.Provision(ctx, sandbox.Owner{Kind: record.OwnerVisitor, Ref: sessionID})
//	if errors.Is(err, errors.ErrProvisionFailed) {
//	    // show "set up sandbox" and let the user retry
//	}
//
// The flow is:
//  1. Claim the owner's live record, if any, and reconcile it
//  2. Reuse it when valid (resuming a stopped container)
//  3. Tear it down when expired or stale, then look again
//  4. Create a provisioning record; losing the race re-reads the winner
//  5. Create and start the container, then mark the record running
//
// A runtime failure leaves the record provisioning. The next call picks it
// up again, so a half-finished provision is never reported as running.
//
// # Teardown
//
// Teardown is the only way a sandbox is destroyed. Begin marks the record
// deleting; Finish deletes the container, clears cached state, removes the
// workspace, marks the record deleted and ends the visitor session. Each
// step is attempted regardless of earlier failures, and the Report lists
// what failed. The record only reaches deleted once the runtime confirmed
// the container is gone.
//
// # Garbage collection
//
// Collector.Collect finds containers and workspaces without a live record,
// records whose container vanished, and records stuck deleting.
// Collector.Execute removes them.
package sandbox
