// router maps request paths to documents and POST targets to form actions
package router

import (
	"context"
	"strings"

	"github.com/joeycumines/logiface"
)

// FormHandler runs a form action and returns the page to answer with.
type FormHandler func(ctx context.Context, form map[string]string) string

type Router struct {
	// extensionless logical pages, served as name + ".html"
	pages map[string]struct{}
	forms node
	log   *logiface.Logger[logiface.Event]
}

// New returns an empty router, log may be nil.
func New(log *logiface.Logger[logiface.Event]) *Router {
	return &Router{
		pages: make(map[string]struct{}),
		log:   log,
	}
}

// Page allows the logical name, e.g. "/welcome" resolves to "/welcome.html".
func (r *Router) Page(names ...string) {
	for _, name := range names {
		r.pages[name] = struct{}{}
	}
}

// Form registers a form action for a POST target, segments starting with ':'
// are params added to the form unless it already has that key.
func (r *Router) Form(path string, h FormHandler) {
	r.forms.insert(path, h)
}

// Resolve normalizes a request path: "/" is the index page and allowed logical
// names get the ".html" suffix. Anything else is returned unchanged.
func (r *Router) Resolve(path string) string {
	if path == "/" {
		return "/index.html"
	}
	if _, ok := r.pages[path]; ok && !strings.HasSuffix(path, ".html") {
		return path + ".html"
	}
	return path
}

// Submit runs the form action for target, false when there is none.
func (r *Router) Submit(ctx context.Context, target string, form map[string]string) (string, bool) {
	params := make(map[string]string)
	h := r.forms.find(target, params)
	if h == nil {
		return "", false
	}
	for k, v := range params {
		if _, ok := form[k]; !ok {
			form[k] = v
		}
	}

	next := h(ctx, form)
	r.log.Debug().Str("target", target).Str("next", next).Log("form submitted")
	return next, true
}
