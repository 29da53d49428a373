// Package render models rendering requests and builds the ordered set of
// request body shapes tried against the upstream rendering API.
package render

import (
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/book-expert/render-gateway/internal/target"
	"github.com/tidwall/gjson"
)

// Action is the logical rendering operation, mapped one to one onto an
// upstream sub-endpoint.
type Action string

// Supported actions.
const (
	ActionScreenshot Action = "screenshot"
	ActionPDF        Action = "pdf"
	ActionContent    Action = "content"
	ActionSnapshot   Action = "snapshot"
	ActionScrape     Action = "scrape"
	ActionJSON       Action = "json"
	ActionLinks      Action = "links"
	ActionMarkdown   Action = "markdown"
)

// Query parameter names.
const (
	paramURL               = "url"
	paramWidth             = "width"
	paramHeight            = "height"
	paramDeviceScaleFactor = "deviceScaleFactor"
	paramFullPage          = "fullPage"
	paramElements          = "elements"
)

var (
	// ErrMissingURL is returned when a request has nothing to render.
	ErrMissingURL = errors.New("missing_url")
	// ErrUnknownAction is returned for action names outside the fixed set.
	ErrUnknownAction = errors.New("unknown action")
)

var allActions = []Action{
	ActionContent, ActionSnapshot, ActionScreenshot, ActionPDF,
	ActionScrape, ActionJSON, ActionLinks, ActionMarkdown,
}

// Actions lists every supported action.
func Actions() []Action {
	out := make([]Action, len(allActions))
	copy(out, allActions)

	return out
}

// ParseAction maps a route segment onto an Action.
func ParseAction(name string) (Action, error) {
	for _, action := range allActions {
		if string(action) == name {
			return action, nil
		}
	}

	return "", ErrUnknownAction
}

// Viewport carries the optional page geometry. Nil fields are absent.
type Viewport struct {
	Width             *float64
	Height            *float64
	DeviceScaleFactor *float64
}

// HasSize reports whether a non-zero width or height was supplied.
func (v Viewport) HasSize() bool {
	return nonZero(v.Width) || nonZero(v.Height)
}

// Element is one scrape selector.
type Element struct {
	Selector string `json:"selector"`
}

// Request is one inbound rendering call. Target is nil only for scrape
// requests that rely on selectors alone.
type Request struct {
	Action Action
	Target *url.URL
	// RawTarget is the url parameter exactly as supplied.
	RawTarget string
	Viewport  Viewport
	FullPage  bool
	Elements  []Element

	// ElementsIgnored is set when an elements parameter was present but
	// could not be used.
	ElementsIgnored bool
}

// TargetURL returns the target as supplied by the caller, or "" when absent.
func (r Request) TargetURL() string {
	if r.Target == nil {
		return ""
	}

	if r.RawTarget != "" {
		return r.RawTarget
	}

	return r.Target.String()
}

// ParseQuery builds a Request from the query string of an action call. The
// url parameter is validated with target.Validate.
func ParseQuery(action Action, query url.Values) (Request, error) {
	req := Request{
		Action: action,
		Viewport: Viewport{
			Width:             parseNumber(query.Get(paramWidth)),
			Height:            parseNumber(query.Get(paramHeight)),
			DeviceScaleFactor: parseNumber(query.Get(paramDeviceScaleFactor)),
		},
		FullPage: query.Get(paramFullPage) == "true",
	}

	if action == ActionScrape {
		if raw := query.Get(paramElements); raw != "" {
			req.Elements = parseElements(raw)
			req.ElementsIgnored = req.Elements == nil
		}
	}

	rawTarget := query.Get(paramURL)
	if rawTarget == "" {
		if action != ActionScrape || len(req.Elements) == 0 {
			return Request{}, ErrMissingURL
		}

		return req, nil
	}

	parsed, err := target.Validate(rawTarget)
	if err != nil {
		return Request{}, err
	}

	req.Target = parsed
	req.RawTarget = strings.TrimSpace(rawTarget)

	return req, nil
}

// parseElements accepts a JSON array of objects that all carry a string
// selector. Anything else yields nil.
func parseElements(raw string) []Element {
	if !gjson.Valid(raw) {
		return nil
	}

	doc := gjson.Parse(raw)
	if !doc.IsArray() {
		return nil
	}

	items := doc.Array()
	elements := make([]Element, 0, len(items))

	for _, item := range items {
		selector := item.Get("selector")
		if !item.IsObject() || selector.Type != gjson.String {
			return nil
		}

		elements = append(elements, Element{Selector: selector.String()})
	}

	if len(elements) == 0 {
		return nil
	}

	return elements
}

func parseNumber(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}

	return &value
}

func nonZero(v *float64) bool {
	return v != nil && *v != 0
}
