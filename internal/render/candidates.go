package render

// Candidate is one guess at the upstream request body for a Request.
type Candidate map[string]any

// Upstream field names.
const (
	fieldURL               = "url"
	fieldElements          = "elements"
	fieldViewport          = "viewport"
	fieldOptions           = "options"
	fieldRenderOptions     = "render_options"
	fieldScreenshot        = "screenshot"
	fieldWidth             = "width"
	fieldHeight            = "height"
	fieldDeviceScaleFactor = "device_scale_factor"
	fieldFullPage          = "full_page"
)

// BuildCandidates returns the request bodies to try, most plausible first.
//
// Scrape requests with selectors try {url, elements}, {elements} and {url};
// without selectors only {url}. Every other action gets six shapes that differ
// in where viewport and page options live. Absent values are stripped, so a
// nested object is either fully present or missing.
func BuildCandidates(req Request) []Candidate {
	var urlValue any
	if req.Target != nil {
		urlValue = req.TargetURL()
	}

	if req.Action == ActionScrape {
		return buildScrapeCandidates(urlValue, req.Elements)
	}

	viewport := req.Viewport

	var nestedViewport any
	if viewport.HasSize() {
		nestedViewport = map[string]any{
			fieldWidth:             floatValue(viewport.Width),
			fieldHeight:            floatValue(viewport.Height),
			fieldDeviceScaleFactor: floatValue(viewport.DeviceScaleFactor),
		}
	}

	var renderOptions any
	if viewport.HasSize() {
		renderOptions = map[string]any{
			fieldWidth:    floatValue(viewport.Width),
			fieldHeight:   floatValue(viewport.Height),
			fieldFullPage: req.FullPage,
		}
	}

	var screenshot any
	if viewport.HasSize() || req.FullPage {
		var screenshotViewport any
		if viewport.HasSize() {
			screenshotViewport = map[string]any{
				fieldWidth:  floatValue(viewport.Width),
				fieldHeight: floatValue(viewport.Height),
			}
		}

		screenshot = map[string]any{
			fieldViewport: screenshotViewport,
			fieldFullPage: req.FullPage,
		}
	}

	shapes := []map[string]any{
		{fieldURL: urlValue},
		{fieldURL: urlValue, fieldViewport: nestedViewport},
		{fieldURL: urlValue, fieldOptions: map[string]any{fieldFullPage: req.FullPage}},
		{fieldURL: urlValue, fieldViewport: nestedViewport, fieldOptions: map[string]any{fieldFullPage: req.FullPage}},
		{fieldURL: urlValue, fieldRenderOptions: renderOptions},
		{fieldURL: urlValue, fieldScreenshot: screenshot},
	}

	candidates := make([]Candidate, 0, len(shapes))
	for _, shape := range shapes {
		candidates = append(candidates, Candidate(stripAbsent(shape)))
	}

	return candidates
}

func buildScrapeCandidates(urlValue any, elements []Element) []Candidate {
	var candidates []Candidate

	if len(elements) > 0 {
		list := make([]any, 0, len(elements))
		for _, element := range elements {
			list = append(list, map[string]any{"selector": element.Selector})
		}

		if urlValue != nil {
			candidates = append(candidates, Candidate(stripAbsent(map[string]any{
				fieldURL: urlValue, fieldElements: list,
			})))
		}

		candidates = append(candidates, Candidate(stripAbsent(map[string]any{fieldElements: list})))
	}

	if urlValue != nil {
		candidates = append(candidates, Candidate(stripAbsent(map[string]any{fieldURL: urlValue})))
	}

	return candidates
}

// stripAbsent returns a deep copy of m without nil values. Empty nested
// objects are kept.
func stripAbsent(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))

	for key, value := range m {
		cleaned, ok := stripValue(value)
		if ok {
			out[key] = cleaned
		}
	}

	return out
}

func stripValue(value any) (any, bool) {
	switch typed := value.(type) {
	case nil:
		return nil, false
	case *float64:
		if typed == nil {
			return nil, false
		}

		return *typed, true
	case map[string]any:
		return stripAbsent(typed), true
	case []any:
		list := make([]any, 0, len(typed))

		for _, item := range typed {
			if cleaned, ok := stripValue(item); ok {
				list = append(list, cleaned)
			}
		}

		return list, true
	default:
		return value, true
	}
}

// floatValue dereferences v, returning an untyped nil when it is absent.
func floatValue(v *float64) any {
	if v == nil {
		return nil
	}

	return *v
}
