package router

import (
	"context"

	"github.com/joeycumines/logiface"
	"github.com/s00inx/webserver/server/auth"
)

// pages answered after a credential form
const (
	WelcomePage    = "/welcome.html"
	LoginErrorPage = "/login_error.html"
	SignErrorPage  = "/sign_error.html"
)

// Login checks username/password against v.
func Login(v auth.Verifier, log *logiface.Logger[logiface.Event]) FormHandler {
	return credentials(v, true, LoginErrorPage, log)
}

// Register stores a new username/password in v.
func Register(v auth.Verifier, log *logiface.Logger[logiface.Event]) FormHandler {
	return credentials(v, false, SignErrorPage, log)
}

func credentials(v auth.Verifier, login bool, failPage string, log *logiface.Logger[logiface.Event]) FormHandler {
	op := "register"
	if login {
		op = "login"
	}
	return func(ctx context.Context, form map[string]string) string {
		user := form["username"]
		ok, err := v.Verify(ctx, user, form["password"], login)
		if err != nil {
			log.Info().Str("op", op).Str("user", user).Err(err).Log("auth failed")
			return failPage
		}
		if !ok {
			log.Info().Str("op", op).Str("user", user).Log("auth rejected")
			return failPage
		}
		log.Info().Str("op", op).Str("user", user).Log("auth ok")
		return WelcomePage
	}
}

// Default is the stock site: the logical pages and the sign/login forms.
func Default(v auth.Verifier, log *logiface.Logger[logiface.Event]) *Router {
	r := New(log)
	r.Page("/index", "/sign", "/login", "/welcome", "/get_video", "/get_picture")
	r.Form("/sign.html", Register(v, log))
	r.Form("/login.html", Login(v, log))
	return r
}
