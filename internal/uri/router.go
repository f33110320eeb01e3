package uri

import (
	"taiga/internal/config"
	"taiga/internal/constants"
	"taiga/pkg/errors"
)

// RouteSpec is the per-namespace routing contract: which record fields the
// trailing path segments populate, and how long the URI may be.
type RouteSpec struct {
	Dimensions    []string
	MaxPathLength int
}

// Submission is the routed form of one submission URI.
type Submission struct {
	Namespace  string
	DocumentID string
	Route      *RouteSpec
	// Dimensions holds the positionally extracted trailing segments,
	// keyed by the route's dimension names. Segments the client omitted
	// are absent; the normalizer fills them with the unknown sentinel.
	Dimensions map[string]string
}

// Router resolves submission URIs against the configured namespaces.
// Read-only after construction.
type Router struct {
	routes map[string]*RouteSpec
}

// DefaultTelemetryDimensions are the trailing path segments of the
// standard /submit/telemetry route, in order.
var DefaultTelemetryDimensions = []string{
	"docType", "appName", "appVersion", "appUpdateChannel", "appBuildId",
}

// NewRouter builds a router from configuration. An empty configuration
// installs the default telemetry route.
func NewRouter(namespaces map[string]config.RouteConfig) *Router {
	routes := make(map[string]*RouteSpec, len(namespaces)+1)

	for ns, rc := range namespaces {
		spec := &RouteSpec{
			Dimensions:    append([]string(nil), rc.Dimensions...),
			MaxPathLength: rc.MaxPathLength,
		}
		if spec.MaxPathLength == 0 {
			spec.MaxPathLength = constants.DefaultMaxPathLength
		}
		routes[ns] = spec
	}

	if _, ok := routes[constants.DefaultNamespace]; !ok {
		routes[constants.DefaultNamespace] = &RouteSpec{
			Dimensions:    append([]string(nil), DefaultTelemetryDimensions...),
			MaxPathLength: constants.DefaultMaxPathLength,
		}
	}

	return &Router{routes: routes}
}

// Route validates /submit/<namespace>/<documentId>[/<dim>...] and extracts
// the routing dimensions. All failures are typed uri decode errors.
func (r *Router) Route(uri string) (*Submission, error) {
	components := Split(uri)

	if len(components) < 3 {
		return nil, errors.NewDecodeError(errors.DecodeURI,
			"invalid submission path: %q (want /submit/<namespace>/<documentId>)", uri)
	}

	if components[0] != constants.SubmitPrefix {
		return nil, errors.NewDecodeError(errors.DecodeURI,
			"invalid path prefix: %q", components[0])
	}

	namespace := components[1]
	spec, ok := r.routes[namespace]
	if !ok {
		return nil, errors.NewDecodeError(errors.DecodeURI,
			"unknown namespace: %q", namespace)
	}

	if len(uri) > spec.MaxPathLength {
		return nil, errors.NewDecodeError(errors.DecodeURI,
			"path too long: %d > %d", len(uri), spec.MaxPathLength)
	}

	trailing := components[3:]
	if len(trailing) > len(spec.Dimensions) {
		return nil, errors.NewDecodeError(errors.DecodeURI,
			"%d path dimensions exceed the %d configured for namespace %q",
			len(trailing), len(spec.Dimensions), namespace)
	}

	dims := make(map[string]string, len(trailing))
	for i, value := range trailing {
		dims[spec.Dimensions[i]] = value
	}

	return &Submission{
		Namespace:  namespace,
		DocumentID: components[2],
		Route:      spec,
		Dimensions: dims,
	}, nil
}
