// ABOUTME: Route descriptor with URL resolution and rate-limit bucket derivation
// ABOUTME: Bucket keys depend on method, path template and major parameter only

package rest

import (
	"strings"
)

// DefaultAPIBase is the versioned REST endpoint prefix.
const DefaultAPIBase = "https://discord.com/api/v9"

// majorParams are the route parameters that partition otherwise
// identical path templates into distinct rate-limit buckets.
var majorParams = []string{"channel_id", "guild_id", "webhook_id"}

// Route describes a single REST endpoint: an HTTP method, a path
// template containing {param} placeholders, and the parameter values
// used to resolve it.
type Route struct {
	Method string
	Path   string
	Params map[string]string
}

// NewRoute builds a route from a method, a path template and its
// parameters. The template uses {name} placeholders, e.g.
// "/channels/{channel_id}/messages".
func NewRoute(method, path string, params map[string]string) *Route {
	return &Route{Method: method, Path: path, Params: params}
}

// URL resolves the path template against the given API base.
func (r *Route) URL(base string) string {
	path := r.Path
	for name, value := range r.Params {
		path = strings.ReplaceAll(path, "{"+name+"}", value)
	}
	return base + path
}

// Bucket derives the rate-limit bucket key for this route. Two routes
// with the same method, template and major parameter share a bucket
// even when their resolved URLs differ; minor parameters (message ids,
// user ids, ...) do not split buckets.
func (r *Route) Bucket() string {
	var sb strings.Builder
	sb.WriteString(r.Method)
	sb.WriteByte(':')
	sb.WriteString(r.Path)
	for _, name := range majorParams {
		if value, ok := r.Params[name]; ok {
			sb.WriteByte(':')
			sb.WriteString(name)
			sb.WriteByte('=')
			sb.WriteString(value)
		}
	}
	return sb.String()
}
