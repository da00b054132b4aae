// Package web routes requests onto objects. A path names a target
// object and may carry an explicit "::endpoint" suffix; the endpoint
// falls back to a per-protocol default. Handlers are registered per
// class and endpoint name.
package web

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/asaidimu/go-schemat/core/object"
	"github.com/asaidimu/go-schemat/core/registry"
)

// URLNotFound reports a path that resolves to no object or an endpoint
// no handler serves.
var URLNotFound = errs.Class("url not found")

// Protocols a request can arrive on. LOCAL marks in-process calls.
const (
	GET   = "GET"
	POST  = "POST"
	LOCAL = "LOCAL"
)

// EndpointSep separates the endpoint suffix from the object path.
const EndpointSep = "::"

// Request is the transport-independent shape of one incoming call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   string
}

// Handler serves one endpoint of one class.
type Handler func(ctx context.Context, req *Request, target *object.WebObject) (any, error)

// Options configures a router.
type Options struct {
	// DefaultEndpoints maps a protocol to the endpoint used when the
	// path carries no suffix.
	DefaultEndpoints map[string]string
	Logger           *zap.Logger
}

// Router resolves paths to objects and dispatches endpoint handlers.
type Router struct {
	reg      *registry.Registry
	logger   *zap.Logger
	defaults map[string]string
	handlers map[string]Handler
}

func NewRouter(reg *registry.Registry, opts *Options) *Router {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := opts.DefaultEndpoints
	if defaults == nil {
		defaults = map[string]string{
			GET:   "view",
			POST:  "submit",
			LOCAL: "self",
		}
	}
	return &Router{
		reg:      reg,
		logger:   logger,
		defaults: defaults,
		handlers: map[string]Handler{},
	}
}

// RegisterEndpoint installs a handler for one class and endpoint name.
func (r *Router) RegisterEndpoint(class, endpoint string, h Handler) {
	r.handlers[class+EndpointSep+endpoint] = h
}

// Resolve splits the endpoint suffix off the path and loads the target
// object named by the last path segment.
func (r *Router) Resolve(ctx context.Context, req *Request) (*object.WebObject, string, error) {
	path, endpoint := splitEndpoint(req.Path)
	if endpoint == "" {
		endpoint = r.defaults[req.Method]
	}
	if endpoint == "" {
		return nil, "", URLNotFound.New("no endpoint for %s %s", req.Method, req.Path)
	}

	id, ok := objectID(path)
	if !ok {
		return nil, "", URLNotFound.New("path %q names no object", req.Path)
	}
	target, err := r.reg.GetLoaded(ctx, id)
	if err != nil {
		return nil, "", URLNotFound.Wrap(err)
	}
	return target, endpoint, nil
}

// Serve resolves the request and invokes the endpoint handler of the
// target's class.
func (r *Router) Serve(ctx context.Context, req *Request) (any, error) {
	target, endpoint, err := r.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	h, ok := r.handlers[target.Class()+EndpointSep+endpoint]
	if !ok {
		return nil, URLNotFound.New("class %q serves no endpoint %q", target.Class(), endpoint)
	}
	r.logger.Debug("serving endpoint",
		zap.Int64("id", target.ID()), zap.String("endpoint", endpoint))
	return h(ctx, req, target)
}

func splitEndpoint(path string) (string, string) {
	if i := strings.LastIndex(path, EndpointSep); i >= 0 {
		return path[:i], path[i+len(EndpointSep):]
	}
	return path, ""
}

// objectID reads the object id from the last path segment.
func objectID(path string) (int64, bool) {
	path = strings.Trim(path, "/")
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	id, err := strconv.ParseInt(last, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
