package sandbox

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/firefly-engineering/sandboxd/internal/audit"
	"github.com/firefly-engineering/sandboxd/internal/reconcile"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
	"github.com/firefly-engineering/sandboxd/internal/store"
)

// Garbage is everything a collection pass found.
type Garbage struct {
	// OrphanedContainers are managed containers with no live record, for
	// example left behind by a crash between create and record cleanup.
	OrphanedContainers []*runtime.ContainerInfo `json:"orphanedContainers" yaml:"orphanedContainers"`

	// OrphanedWorkspaces are workspace directories with no live record.
	OrphanedWorkspaces []string `json:"orphanedWorkspaces" yaml:"orphanedWorkspaces"`

	// StaleRecords claim a container the runtime does not have.
	StaleRecords []*record.Record `json:"staleRecords" yaml:"staleRecords"`

	// Unfinished records are stuck deleting after an incomplete teardown.
	Unfinished []*record.Record `json:"unfinished" yaml:"unfinished"`
}

// Empty reports whether nothing was found.
func (g *Garbage) Empty() bool {
	return len(g.OrphanedContainers) == 0 &&
		len(g.OrphanedWorkspaces) == 0 &&
		len(g.StaleRecords) == 0 &&
		len(g.Unfinished) == 0
}

// Collector reconciles the whole record store against the runtime.
type Collector struct {
	store     *store.Store
	runtime   runtime.Runtime
	validator *reconcile.Validator
	teardown  *Teardown
	settings
}

// NewCollector creates a Collector.
func NewCollector(s *store.Store, rt runtime.Runtime, v *reconcile.Validator, td *Teardown, opts ...Option) *Collector {
	return &Collector{
		store:     s,
		runtime:   rt,
		validator: v,
		teardown:  td,
		settings:  newSettings(opts),
	}
}

// Collect finds garbage without changing anything. It fails when the
// runtime cannot list its containers, since nothing can be concluded
// about orphans then.
func (c *Collector) Collect(ctx context.Context) (*Garbage, error) {
	// Containers are listed before records: every container's record is
	// created before the container, so a record list taken afterwards
	// always includes it.
	containers, err := c.runtime.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var workspaceIDs []string
	if c.workspaces != nil {
		workspaceIDs, err = c.workspaces.List()
		if err != nil {
			return nil, err
		}
	}

	records, err := c.store.List(ctx,
		record.StatusProvisioning, record.StatusRunning, record.StatusStopped, record.StatusDeleting)
	if err != nil {
		return nil, err
	}

	live := make(map[string]bool, len(records))
	for _, rec := range records {
		live[rec.ID] = true
	}

	g := &Garbage{}
	for _, ctr := range containers {
		if !live[ctr.ID] {
			g.OrphanedContainers = append(g.OrphanedContainers, ctr)
		}
	}
	for _, id := range workspaceIDs {
		if !live[id] {
			g.OrphanedWorkspaces = append(g.OrphanedWorkspaces, id)
		}
	}

	for _, rec := range records {
		if rec.Status == record.StatusDeleting {
			g.Unfinished = append(g.Unfinished, rec)
			continue
		}
		res, err := c.validator.Reconcile(ctx, rec)
		if err != nil {
			return nil, err
		}
		if res.Verdict == reconcile.Stale {
			g.StaleRecords = append(g.StaleRecords, res.Record)
		}
	}

	sort.Slice(g.OrphanedContainers, func(i, j int) bool {
		return g.OrphanedContainers[i].ID < g.OrphanedContainers[j].ID
	})
	sort.Strings(g.OrphanedWorkspaces)
	return g, nil
}

// Execute removes what Collect found. Every item is attempted; the
// returned error joins the individual failures.
func (c *Collector) Execute(ctx context.Context, g *Garbage) error {
	var errs []error

	for _, ctr := range g.OrphanedContainers {
		err := c.runtime.Delete(ctx, ctr.ID)
		ev := audit.Event{Type: audit.EventOrphan, Sandbox: ctr.ID, Runtime: c.runtime.Name(), Outcome: audit.OutcomeOK, Details: ctr.Name}
		if err != nil {
			c.logger.Warn("failed to remove orphaned container", "sandbox", ctr.ID, "name", ctr.Name, "error", err)
			errs = append(errs, fmt.Errorf("container %s: %w", ctr.Name, err))
			ev.Outcome = audit.OutcomeError
			ev.Details = err.Error()
		} else {
			c.logger.Info("removed orphaned container", "sandbox", ctr.ID, "name", ctr.Name)
		}
		c.logAudit(ev)
	}

	if c.workspaces != nil {
		for _, id := range g.OrphanedWorkspaces {
			if err := c.workspaces.Remove(id); err != nil {
				c.logger.Warn("failed to remove orphaned workspace", "sandbox", id, "error", err)
				errs = append(errs, err)
			}
		}
	}

	for _, rec := range g.StaleRecords {
		if err := c.teardown.Run(ctx, rec, ReasonStale).Err(); err != nil {
			errs = append(errs, err)
		}
	}

	for _, rec := range g.Unfinished {
		if err := c.teardown.Finish(ctx, rec, ReasonStale).Err(); err != nil {
			errs = append(errs, err)
		}
	}

	return stderrors.Join(errs...)
}
