package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/session"
)

const callerKey = "sandboxd.caller"

// caller builds the CallerContext for a request. Authenticated accounts
// come from the trusted headers; everyone else is a visitor identified by
// the session cookie, and a visitor without a valid session gets a new one.
func (h *handler) caller(c *gin.Context) (session.CallerContext, *session.Session, error) {
	if v, ok := c.Get(callerKey); ok {
		cached := v.(resolved)
		return cached.caller, cached.session, nil
	}

	ctx := c.Request.Context()
	var sess *session.Session
	if id, err := c.Cookie(h.cookieName); err == nil && id != "" {
		s, err := h.Sessions.Get(ctx, id)
		if err != nil {
			return session.CallerContext{}, nil, err
		}
		sess = s
	}

	var caller session.CallerContext
	if user := strings.TrimSpace(c.GetHeader(HeaderUser)); h.trustHeaders && user != "" {
		kind := record.OwnerUser
		if strings.EqualFold(strings.TrimSpace(c.GetHeader(HeaderRole)), string(record.OwnerAdmin)) {
			kind = record.OwnerAdmin
		}
		caller = session.Account(kind, user, sess)
	} else {
		if sess == nil {
			sess = session.New(h.now())
			if err := h.Sessions.Save(ctx, sess); err != nil {
				return session.CallerContext{}, nil, err
			}
			h.setCookie(c, sess)
		}
		caller = session.Visitor(sess)
	}

	c.Set(callerKey, resolved{caller: caller, session: sess})
	return caller, sess, nil
}

type resolved struct {
	caller  session.CallerContext
	session *session.Session
}

func (h *handler) setCookie(c *gin.Context, s *session.Session) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, s.ID, int(h.cookieMaxAge.Seconds()), "/", "", h.secure, true)
}

func (h *handler) requireAdmin(c *gin.Context) {
	caller, _, err := h.caller(c)
	if err != nil {
		h.respondErr(c, err)
		c.Abort()
		return
	}
	if caller.Kind != record.OwnerAdmin {
		respondError(c, http.StatusForbidden, "forbidden", "admin role required")
		c.Abort()
		return
	}
	c.Next()
}
