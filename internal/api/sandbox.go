package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/sandbox"
	"github.com/firefly-engineering/sandboxd/internal/session"
)

type openRequest struct {
	// UseSandbox records an admin's preference to work inside a sandbox.
	UseSandbox *bool `json:"useSandbox"`
}

// viewSandbox reports the caller's sandbox without creating one.
func (h *handler) viewSandbox(c *gin.Context) {
	caller, _, err := h.caller(c)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	res, err := h.Binder.Open(c.Request.Context(), caller, false)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	h.writeOpen(c, res)
}

// openSandbox opens the caller's sandbox, creating it when needed.
func (h *handler) openSandbox(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "invalid_request", "invalid request payload")
		return
	}

	caller, sess, err := h.caller(c)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	if req.UseSandbox != nil && caller.Kind == record.OwnerAdmin {
		if sess == nil {
			sess = session.New(h.now())
			h.setCookie(c, sess)
		}
		sess.PreferSandbox = *req.UseSandbox
		if err := h.Sessions.Save(c.Request.Context(), sess); err != nil {
			h.respondErr(c, err)
			return
		}
		caller = session.Account(caller.Kind, caller.Ref, sess)
	}

	res, err := h.Binder.Open(c.Request.Context(), caller, true)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	h.writeOpen(c, res)
}

// startSandbox starts the caller's existing sandbox.
func (h *handler) startSandbox(c *gin.Context) {
	caller, _, err := h.caller(c)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	res, err := h.Binder.Start(c.Request.Context(), caller)
	if err != nil {
		if errors.Is(err, errors.ErrProvisionFailed) {
			c.JSON(http.StatusOK, session.OpenResult{
				SandboxID:  errors.SandboxIDOf(err),
				Phase:      session.PhaseInstalled,
				NeedsSetup: true,
			})
			return
		}
		h.respondErr(c, err)
		return
	}
	h.writeOpen(c, res)
}

// stopSandbox stops the caller's running sandbox. The next open resumes it.
func (h *handler) stopSandbox(c *gin.Context) {
	caller, _, err := h.caller(c)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	res, err := h.Binder.Stop(c.Request.Context(), caller)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	h.writeOpen(c, res)
}

// destroySandbox tears down a sandbox. Success is reported once the record
// is marked deleting; the rest finishes in the background.
func (h *handler) destroySandbox(c *gin.Context) {
	caller, _, err := h.caller(c)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if err := record.ValidateID(id); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.Binder.Destroy(c.Request.Context(), caller, id)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	if res.Session != nil {
		h.setCookie(c, res.Session)
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success":   true,
		"sandboxId": res.SandboxID,
		"status":    res.Status,
	})
}

func (h *handler) writeOpen(c *gin.Context, res *session.OpenResult) {
	if res.Session != nil {
		h.setCookie(c, res.Session)
	}
	c.JSON(http.StatusOK, res)
}

// listSandboxes lists records, optionally filtered by ?status=a,b.
func (h *handler) listSandboxes(c *gin.Context) {
	var statuses []record.Status
	for _, raw := range strings.Split(c.Query("status"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		s := record.Status(raw)
		if !s.Valid() {
			respondError(c, http.StatusBadRequest, "invalid_status", "unknown status "+raw)
			return
		}
		statuses = append(statuses, s)
	}

	ctx := c.Request.Context()
	recs, err := h.Store.List(ctx, statuses...)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	counts, err := h.Store.CountByStatus(ctx)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	if recs == nil {
		recs = []*record.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"sandboxes": recs, "counts": counts})
}

// forceTeardown destroys any sandbox regardless of owner and waits for the
// teardown to finish.
func (h *handler) forceTeardown(c *gin.Context) {
	ctx := c.Request.Context()
	rec, err := h.Store.Get(ctx, c.Param("id"))
	if err != nil {
		h.respondErr(c, err)
		return
	}

	caller, _, _ := h.caller(c)
	h.logger.Warn("forced teardown", "sandbox", rec.ID, "admin", caller.Ref)

	report := h.Teardown.Run(ctx, rec, sandbox.ReasonForced)
	failed := report.Failed()
	if failed == nil {
		failed = []sandbox.Step{}
	}
	body := gin.H{
		"sandboxId": rec.ID,
		"deleted":   report.Deleted,
		"failed":    failed,
	}
	if err := report.Err(); err != nil {
		body["message"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// forceStop stops any running sandbox regardless of owner.
func (h *handler) forceStop(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := record.ValidateID(id); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	caller, _, _ := h.caller(c)
	h.logger.Warn("forced stop", "sandbox", id, "admin", caller.Ref)

	rec, err := h.Provisioner.Stop(c.Request.Context(), id)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sandboxId": rec.ID, "status": rec.Status})
}

// health reports whether the record store and the container runtime are
// reachable.
func (h *handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{"store": "ok", "runtime": "ok"}
	status := http.StatusOK

	if err := h.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if h.Runtime != nil {
		if err := h.Runtime.Ping(ctx); err != nil {
			checks["runtime"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	if status == http.StatusOK {
		c.JSON(status, gin.H{"status": "ok", "checks": checks})
		return
	}
	c.JSON(status, gin.H{"status": "degraded", "checks": checks})
}
