package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/render-gateway/internal/cache"
	"github.com/book-expert/render-gateway/internal/core"
	"github.com/book-expert/render-gateway/internal/htmlrewrite"
	"github.com/book-expert/render-gateway/internal/normalize"
	"github.com/book-expert/render-gateway/internal/probe"
	"github.com/book-expert/render-gateway/internal/render"
	"github.com/book-expert/render-gateway/internal/speech"
	"github.com/gin-gonic/gin"
)

// Wire codes owned by the routing layer.
const (
	codeNotFound         = "not_found"
	codeMethodNotAllowed = "method_not_allowed"
	codeInternalError    = "internal_error"
)

const (
	headerAllowOrigin   = "Access-Control-Allow-Origin"
	headerVary          = "Vary"
	headerCacheControl  = "Cache-Control"
	headerContentLength = "Content-Length"
)

func (s *Server) handleStatus(c *gin.Context) {
	c.Header(headerAllowOrigin, "*")
	c.JSON(http.StatusOK, gin.H{"ok": true, "ts": time.Now().UnixMilli()})
}

func (s *Server) handleRender(action render.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetString(ctxRequestID)

		req, err := render.ParseQuery(action, c.Request.URL.Query())
		if err != nil {
			writeError(c, core.NewAPIError(http.StatusBadRequest, err.Error(), err))

			return
		}

		if req.ElementsIgnored {
			s.log.Warn("[%s] %s: unusable elements parameter ignored", id, action)
		}

		endpoint, err := s.settings.RenderEndpoint(string(action))
		if err != nil {
			writeError(c, core.NewAPIError(http.StatusInternalServerError, err.Error(), err))

			return
		}

		identity := cache.Identity(c.Request.Method, fullURL(c.Request))

		if entry, ok := s.responses.Lookup(c.Request.Context(), identity); ok {
			s.log.Info("[%s] %s served from cache", id, action)

			if err := entry.Replay(c.Writer); err != nil {
				s.log.Warn("[%s] cache replay failed: %v", id, err)
			}

			return
		}

		result, err := s.prober.Probe(c.Request.Context(), endpoint, s.settings.RenderToken, render.BuildCandidates(req))
		if err != nil {
			s.log.Error("[%s] %s failed: %v", id, action, err)
			writeError(c, probeError(err))

			return
		}

		body := result.Body()
		if result.IsHTML() && req.Target != nil {
			rewritten, err := htmlrewrite.RewriteString(result.Text, req.Target)
			if err != nil {
				s.log.Warn("[%s] html rewrite failed, serving original: %v", id, err)
			} else {
				body = []byte(rewritten)
			}
		}

		writeResult(c, result, body)

		if cacheable(result) {
			s.responses.Store(identity, cache.NewEntry(result, body))
		}
	}
}

func (s *Server) handleTalk(c *gin.Context) {
	var req speech.TalkRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, core.NewAPIError(http.StatusBadRequest, speech.CodeInvalidJSON, err))

		return
	}

	result, err := s.talker.Talk(c.Request.Context(), req)
	if err != nil {
		s.log.Error("[%s] talk failed: %v", c.GetString(ctxRequestID), err)
		writeError(c, err)

		return
	}

	c.Header(headerAllowOrigin, "*")

	if result.Inline {
		c.Data(http.StatusOK, result.ContentType, result.Audio)

		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAudio(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		writeError(c, core.NewAPIError(http.StatusNotFound, codeNotFound, nil))

		return
	}

	obj, err := s.talker.Audio(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)

		return
	}

	c.Header(headerAllowOrigin, "*")
	c.Data(http.StatusOK, obj.ContentType, obj.Data)
}

// cacheable reports whether a result goes into the response cache.
func cacheable(result *normalize.Result) bool {
	return result.Cacheable && cache.Storable(result.CacheControl)
}

// writeResult sends a classified result with the body actually served.
// Cacheable results carry the same Cache-Control their replays will.
func writeResult(c *gin.Context, result *normalize.Result, body []byte) {
	c.Header(headerAllowOrigin, "*")
	c.Header(headerVary, "Origin")
	c.Header(headerContentLength, strconv.Itoa(len(body)))

	switch {
	case cacheable(result):
		c.Header(headerCacheControl, cache.DefaultCacheControl)
	case result.CacheControl != "":
		c.Header(headerCacheControl, result.CacheControl)
	}

	c.Data(result.Status, result.ContentType, body)
}

// writeError sends the {error, status} envelope, adding details when the
// error carries them.
func writeError(c *gin.Context, err error) {
	apiErr, ok := core.AsAPIError(err)
	if !ok {
		apiErr = core.NewAPIError(http.StatusInternalServerError, codeInternalError, err)
	}

	payload := gin.H{"error": apiErr.Code, "status": apiErr.Status}
	if apiErr.Details != nil {
		payload["details"] = apiErr.Details
	}

	c.Header(headerAllowOrigin, "*")
	c.AbortWithStatusJSON(apiErr.Status, payload)
}

func probeError(err error) *core.APIError {
	var failure *probe.Failure
	if errors.As(err, &failure) {
		apiErr := core.NewAPIError(http.StatusBadRequest, probe.ErrSchemaMismatch.Error(), err)
		if failure.Last != nil {
			apiErr.Details = failure.Last
		}

		return apiErr
	}

	return core.NewAPIError(http.StatusInternalServerError, codeInternalError, err)
}

// fullURL reconstructs the absolute URL of an inbound request.
func fullURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + r.URL.RequestURI()
}
