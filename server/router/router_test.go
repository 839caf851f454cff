package router

import (
	"context"
	"errors"
	"testing"

	"github.com/s00inx/webserver/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRouter_resolve(t *testing.T) {
	r := Default(auth.NewMemoryStore(bcrypt.MinCost), nil)

	for path, want := range map[string]string{
		"/":             "/index.html",
		"/index":        "/index.html",
		"/sign":         "/sign.html",
		"/get_picture":  "/get_picture.html",
		"/welcome.html": "/welcome.html",
		"/style.css":    "/style.css",
		"/other":        "/other",
		"/index/":       "/index/",
	} {
		assert.Equal(t, want, r.Resolve(path), "path %q", path)
	}
}

func TestFormTree(t *testing.T) {
	var root node
	hit := func(name string) FormHandler {
		return func(context.Context, map[string]string) string { return name }
	}
	root.insert("/api/v1/user", hit("user"))
	root.insert("/api/v1/order", hit("order"))
	root.insert("/api/v1/user/:id", hit("user-id"))
	root.insert("/api/v1/:kind/list", hit("kind-list"))

	tests := []struct {
		name       string
		path       string
		want       string
		wantParams map[string]string
	}{
		{"static match", "/api/v1/user", "user", map[string]string{}},
		{"static match order", "/api/v1/order", "order", map[string]string{}},
		{"param match", "/api/v1/user/123", "user-id", map[string]string{"id": "123"}},
		{"param in the middle", "/api/v1/order/list", "kind-list", map[string]string{"kind": "order"}},
		{"no match", "/api/v1/unknown", "", map[string]string{}},
		{"partial match", "/api/v1", "", map[string]string{}},
		{"prefix is not a segment", "/api/v1/users", "", map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := make(map[string]string)
			h := root.find(tt.path, params)
			if tt.want == "" {
				assert.Nil(t, h)
				return
			}
			require.NotNil(t, h)
			assert.Equal(t, tt.want, h(context.Background(), nil))
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

type stubVerifier struct {
	ok    bool
	err   error
	calls []bool
}

func (s *stubVerifier) Verify(_ context.Context, _, _ string, login bool) (bool, error) {
	s.calls = append(s.calls, login)
	return s.ok, s.err
}

func TestRouter_credentialForms(t *testing.T) {
	for _, tc := range []struct {
		name   string
		target string
		ok     bool
		err    error
		want   string
		login  bool
	}{
		{"login ok", "/login.html", true, nil, WelcomePage, true},
		{"login rejected", "/login.html", false, nil, LoginErrorPage, true},
		{"register ok", "/sign.html", true, nil, WelcomePage, false},
		{"register taken", "/sign.html", false, auth.ErrUserExists, SignErrorPage, false},
		{"store down", "/login.html", false, errors.New("db down"), LoginErrorPage, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v := &stubVerifier{ok: tc.ok, err: tc.err}
			r := Default(v, nil)

			next, ok := r.Submit(context.Background(), tc.target, map[string]string{"username": "u", "password": "p"})
			require.True(t, ok)
			assert.Equal(t, tc.want, next)
			assert.Equal(t, []bool{tc.login}, v.calls)
		})
	}
}

func TestRouter_submitUnknownTarget(t *testing.T) {
	v := &stubVerifier{ok: true}
	r := Default(v, nil)

	_, ok := r.Submit(context.Background(), "/index.html", map[string]string{"username": "u"})
	assert.False(t, ok)
	assert.Empty(t, v.calls)
}

func TestRouter_paramsFillForm(t *testing.T) {
	r := New(nil)
	var got map[string]string
	r.Form("/users/:username/login", func(_ context.Context, form map[string]string) string {
		got = form
		return "/ok.html"
	})

	next, ok := r.Submit(context.Background(), "/users/bob/login", map[string]string{"password": "p"})
	require.True(t, ok)
	assert.Equal(t, "/ok.html", next)
	assert.Equal(t, map[string]string{"username": "bob", "password": "p"}, got)

	// the body wins over the path
	r.Submit(context.Background(), "/users/bob/login", map[string]string{"username": "eve"})
	assert.Equal(t, "eve", got["username"])
}

func TestRouter_memoryStoreRoundTrip(t *testing.T) {
	r := Default(auth.NewMemoryStore(bcrypt.MinCost), nil)
	ctx := context.Background()
	form := func() map[string]string { return map[string]string{"username": "alice", "password": "pw"} }

	next, _ := r.Submit(ctx, "/login.html", form())
	assert.Equal(t, LoginErrorPage, next)

	next, _ = r.Submit(ctx, "/sign.html", form())
	assert.Equal(t, WelcomePage, next)

	next, _ = r.Submit(ctx, "/sign.html", form())
	assert.Equal(t, SignErrorPage, next)

	next, _ = r.Submit(ctx, "/login.html", form())
	assert.Equal(t, WelcomePage, next)
}

func BenchmarkFormTreeStatic(b *testing.B) {
	var root node
	root.insert("/api/v1/user/profile/settings", func(context.Context, map[string]string) string { return "" })

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		root.find("/api/v1/user/profile/settings", nil)
	}
}

func BenchmarkFormTreeParam(b *testing.B) {
	var root node
	root.insert("/api/v1/user/:id/posts/:post_id", func(context.Context, map[string]string) string { return "" })
	params := make(map[string]string, 2)

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		root.find("/api/v1/user/123/posts/456", params)
	}
}
