// Package auth implements the client side of the external OAuth login: it
// builds the login URL, receives the provider's redirect on a local
// callback route, and inspects the resulting session token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/labstack/echo/v4"
)

const (
	DefaultLoginPath = "/api/Google/login/google"
	CallbackPath     = "/auth/callback"
)

// ResultType is the message type posted back to the waiting opener.
type ResultType string

const (
	ResultSuccess ResultType = "AUTH_SUCCESS"
	ResultError   ResultType = "AUTH_ERROR"
)

var ErrAuthFailed = errors.New("authentication failed")

// Result is the outcome of one callback.  Token is only filled on success
// when the provider passes one along.
type Result struct {
	Type  ResultType `json:"type"`
	Error string     `json:"error,omitempty"`
	Token string     `json:"-"`
}

// LoginURL returns the address the user opens to log in.  The provider
// redirects to returnURL when done.
func LoginURL(apiURL string, loginPath string, returnURL string) (string, error) {
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	u, err := url.Parse(strings.TrimRight(apiURL, "/") + "/" + strings.TrimLeft(loginPath, "/"))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("login url %q is not absolute", u.String())
	}
	q := u.Query()
	q.Set("returnUrl", returnURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Callback receives the provider redirect.  Only the first result is
// delivered to Await; later callbacks are answered but ignored.
type Callback struct {
	once    sync.Once
	results chan Result
}

func NewCallback() *Callback {
	return &Callback{
		results: make(chan Result, 1),
	}
}

// Handle is the echo handler for CallbackPath.  It answers with the
// message posted to the opener.
func (cb *Callback) Handle(c echo.Context) error {
	r := Result{Type: ResultSuccess, Token: c.QueryParam("token")}
	if e := c.QueryParam("error"); e != "" {
		r = Result{Type: ResultError, Error: e}
	}

	delivered := false
	cb.once.Do(func() {
		cb.results <- r
		delivered = true
	})
	if !delivered {
		glog.V(1).Infof("[auth]ignore repeated callback %s\n", r.Type)
	}
	return c.JSON(http.StatusOK, r)
}

// Await waits for the first callback.  It returns the session token, which
// is empty when the provider keeps the session in a cookie.
func (cb *Callback) Await(ctx context.Context) (string, error) {
	select {
	case r := <-cb.results:
		if r.Type == ResultError {
			return "", fmt.Errorf("%w: %s", ErrAuthFailed, r.Error)
		}
		return r.Token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
