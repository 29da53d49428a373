// Package cache stores finished gateway responses keyed by a fingerprint of
// the inbound request, so identical requests skip the upstream entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/render-gateway/internal/core"
	"github.com/book-expert/render-gateway/internal/normalize"
)

const (
	keyPrefix = "render:"

	// DefaultCacheControl is sent with every cacheable response, live or
	// replayed.
	DefaultCacheControl = "public, max-age=60"

	storeTimeout = 5 * time.Second

	headerContentType   = "Content-Type"
	headerContentLength = "Content-Length"
	headerCacheControl  = "Cache-Control"
	headerAllowOrigin   = "Access-Control-Allow-Origin"
	allowAnyOrigin      = "*"
)

const (
	logLookupFailed = "cache lookup for %s failed: %v"
	logDecodeFailed = "cache entry %s is unreadable: %v"
	logStoreFailed  = "cache store for %s failed: %v"
)

// Identity is the full identity of an inbound request.
func Identity(method, fullURL string) string {
	return method + " " + fullURL
}

// Fingerprint derives the namespaced store key for an identity.
func Fingerprint(identity string) string {
	sum := sha256.Sum256([]byte(identity))

	return keyPrefix + hex.EncodeToString(sum[:])
}

// Entry is a replayable response.
type Entry struct {
	Status int               `json:"status"`
	Header map[string]string `json:"headers"`
	Body   []byte            `json:"body"`
}

// Storable reports whether an upstream Cache-Control value permits keeping
// the response in a shared cache.
func Storable(cacheControl string) bool {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(directive), "=")

		switch strings.ToLower(name) {
		case "no-store", "private":
			return false
		}
	}

	return true
}

// NewEntry captures result as it is about to be served. body is the final
// payload, which differs from the result for rewritten HTML. Replays always
// advertise DefaultCacheControl regardless of what upstream sent.
func NewEntry(result *normalize.Result, body []byte) *Entry {
	return &Entry{
		Status: result.Status,
		Header: map[string]string{
			headerContentType:  result.ContentType,
			headerCacheControl: DefaultCacheControl,
		},
		Body: body,
	}
}

// Replay writes the entry to w. The CORS header is asserted again on every
// replay.
func (e *Entry) Replay(w http.ResponseWriter) error {
	header := w.Header()
	for name, value := range e.Header {
		header.Set(name, value)
	}

	header.Set(headerAllowOrigin, allowAnyOrigin)
	header.Set(headerContentLength, strconv.Itoa(len(e.Body)))

	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}

	w.WriteHeader(status)

	_, err := w.Write(e.Body)

	return err
}

// Adapter puts the fingerprint scheme in front of a core.CacheStore.
type Adapter struct {
	store core.CacheStore
	ttl   time.Duration
	log   *logger.Logger

	pending sync.WaitGroup
}

// NewAdapter creates an Adapter writing entries with the given ttl.
func NewAdapter(store core.CacheStore, ttl time.Duration, log *logger.Logger) *Adapter {
	return &Adapter{store: store, ttl: ttl, log: log}
}

// Lookup returns the entry stored for identity. Store and decode failures
// are logged and reported as a miss.
func (a *Adapter) Lookup(ctx context.Context, identity string) (*Entry, bool) {
	key := Fingerprint(identity)

	data, found, err := a.store.Get(ctx, key)
	if err != nil {
		a.log.Warn(logLookupFailed, identity, err)

		return nil, false
	}

	if !found {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		a.log.Warn(logDecodeFailed, key, err)

		return nil, false
	}

	return &entry, true
}

// Store writes entry in the background. It never blocks the caller.
func (a *Adapter) Store(identity string, entry *Entry) {
	a.pending.Add(1)

	go func() {
		defer a.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		data, err := json.Marshal(entry)
		if err == nil {
			err = a.store.Set(ctx, Fingerprint(identity), data, a.ttl)
		}

		if err != nil {
			a.log.Warn(logStoreFailed, identity, err)
		}
	}()
}

// Wait blocks until background writes have finished.
func (a *Adapter) Wait() {
	a.pending.Wait()
}
