package server

import (
	"context"
	"net/http"
	"strings"
)

type handlerFunc func(s *Server, ctx context.Context, req *Request) Response

type route struct {
	method string
	path   string
	prefix bool // match any path starting with path
	name   string
	handle handlerFunc
}

// routes is matched in order; the first route with the exact method and a
// matching path wins.
var routes = []route{
	{http.MethodPost, "/users", false, "create_user", (*Server).createUser},
	{http.MethodGet, "/users/", true, "get_user", (*Server).getUser},
	{http.MethodGet, "/users", false, "list_users", (*Server).listUsers},
	{http.MethodPut, "/users/", true, "update_user", (*Server).updateUser},
	{http.MethodDelete, "/users/", true, "delete_user", (*Server).deleteUser},
	{http.MethodGet, "/health", false, "health", (*Server).handleHealth},
	{http.MethodGet, "/metrics", false, "metrics", (*Server).handleMetrics},
}

func (r route) matches(method, path string) bool {
	if r.method != method {
		return false
	}
	if r.prefix {
		return strings.HasPrefix(path, r.path)
	}
	return path == r.path
}

// match returns the first route for method and path.
func match(method, path string) (route, bool) {
	for _, r := range routes {
		if r.matches(method, path) {
			return r, true
		}
	}
	return route{}, false
}

// dispatch routes req and runs its handler inside a request span.
func (s *Server) dispatch(ctx context.Context, req *Request, connID string) Response {
	r, found := match(req.Method, req.Path)
	name := "not_found"
	if found {
		name = r.name
	}

	ctx, span := s.startRequestSpan(ctx, name, req, connID)
	resp := failure(http.StatusNotFound, "404 Not Found")
	if found {
		resp = r.handle(s, ctx, req)
	}
	endRequestSpan(span, resp)
	return resp
}
