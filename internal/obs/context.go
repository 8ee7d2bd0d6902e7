package obs

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

type routePatternKey struct{}

// FunnelLabels identifies the funnel step a request belongs to.
type FunnelLabels struct {
	ProductSlug string
	Step        string
}

// WithRoutePattern stores the matched router pattern on the context.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext extracts the route pattern from context if present.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(routePatternKey{}).(string); ok {
		return v
	}
	return ""
}

// routeOf resolves the route label for r, falling back to the raw path.
func routeOf(r *http.Request, fallback string) string {
	if route := RoutePatternFromContext(r.Context()); route != "" {
		return route
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if route := rc.RoutePattern(); route != "" {
			return route
		}
	}
	return fallback
}

// maxLabelledUpsell bounds the upsell index used in labels. The index comes
// from the URL, so anything else collapses to "upsell_other".
const maxLabelledUpsell = 10

// funnelOf derives labels from the chi route of a funnel step once routing is
// done.
func funnelOf(r *http.Request) FunnelLabels {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return FunnelLabels{}
	}
	labels := FunnelLabels{ProductSlug: rc.URLParam("slug")}
	if labels.ProductSlug == "" {
		return labels
	}
	pattern := rc.RoutePattern()
	switch {
	case strings.Contains(pattern, "/upsell/"):
		labels.Step = "upsell_other"
		if n, err := strconv.Atoi(rc.URLParam("n")); err == nil && n >= 1 && n <= maxLabelledUpsell {
			labels.Step = "upsell_" + strconv.Itoa(n)
		}
	case strings.Contains(pattern, "/downsell"):
		labels.Step = "downsell"
	case strings.HasSuffix(pattern, "/checkout"):
		labels.Step = "checkout"
	case strings.HasSuffix(pattern, "/thank-you"):
		labels.Step = "thank_you"
	}
	return labels
}
