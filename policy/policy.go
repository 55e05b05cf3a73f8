// Package policy implements request-level policy: automatic redirect
// following and challenge-response authentication retry, run once a
// request's exchange completes and before its result is handed back to
// the caller.
package policy

import (
	"net/url"
	"time"

	"github.com/sreylindoung/pyhttpclient/auth"
	"github.com/sreylindoung/pyhttpclient/driver"
	"github.com/sreylindoung/pyhttpclient/internal/errs"
	"github.com/sreylindoung/pyhttpclient/internal/log"
	"github.com/sreylindoung/pyhttpclient/message"
	"github.com/sreylindoung/pyhttpclient/message/wire"
	"github.com/sreylindoung/pyhttpclient/pool"
)

// Awaitable is the capability policy needs beyond message.Request: a
// hook fired once Finished has run, and the bookkeeping to re-queue the
// same request for a redirect or an auth retry. message.Request itself
// stays free of anything policy-specific so the engine proper keeps
// working against the plain interface.
type Awaitable interface {
	message.Request
	OnFinished(fn func())
	PrepareResend(u *url.URL, resp message.Response) error
}

// MaxRedirects bounds how many redirects Do follows for one call before
// giving up, guarding against a redirect loop.
const MaxRedirects = 10

// Policy drives one request through the pool and the driver, following
// redirects and retrying a 401 against a matching credential, until a
// final response lands or an error/redirect-limit ends the attempt.
type Policy struct {
	pool   *pool.Pool
	driver *driver.Pool
	log    log.Logger

	newResponse func(method string) message.Response
}

// Option configures a Policy at construction time.
type Option func(*Policy)

// WithResponseFactory overrides how Policy builds the fresh Response
// needed for each resend attempt. The default builds a wire.Response.
func WithResponseFactory(fn func(method string) message.Response) Option {
	return func(p *Policy) { p.newResponse = fn }
}

// New builds a Policy driving requests through p via d.
func New(p *pool.Pool, d *driver.Pool, opts ...Option) *Policy {
	pl := &Policy{
		pool:   p,
		driver: d,
		log:    log.Named("policy"),
		newResponse: func(method string) message.Response {
			return wire.NewResponse(method)
		},
	}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// Do submits req, waits for its exchange to finish, and applies
// request-level policy: credential bookkeeping, then either a redirect
// resend, an authentication resend, or finalization. It blocks until no
// further resend is warranted, returning a queue admission error or a
// too-many-redirects error, if any. A connection failure is not returned
// here; it reaches the Response through HandleDisconnect.
func (p *Policy) Do(req Awaitable, timeout time.Duration) error {
	for redirects := 0; ; {
		if err := p.submit(req, timeout); err != nil {
			return err
		}
		resend, err := p.afterFinish(req)
		if err != nil {
			return err
		}
		if !resend {
			return nil
		}
		redirects++
		if redirects > MaxRedirects {
			return errs.New(errs.CodeTooManyRedirects)
		}
	}
}

// submit queues req and blocks until its Finished hook fires.
func (p *Policy) submit(req Awaitable, timeout time.Duration) error {
	done := make(chan struct{}, 1)
	req.OnFinished(func() {
		select {
		case done <- struct{}{}:
		default:
		}
	})

	thread := p.driver.ThreadFor(req.URL().Hostname())
	if err := p.pool.QueueRequest(thread, req, timeout); err != nil {
		return err
	}
	<-done
	return nil
}

// afterFinish runs the completion hook spec.md describes: credential
// bookkeeping for a just-finished auth attempt, then redirect, then
// challenge handling, in that order, each of which (when taken) prepares
// req for another submit and reports resend=true.
func (p *Policy) afterFinish(req Awaitable) (resend bool, err error) {
	status := req.Status()

	if tryCreds := req.TryCredentials(); tryCreds != nil {
		store := p.pool.Credentials()
		if creds, ok := tryCreds.(auth.Credentials); ok && store != nil {
			if status == 401 {
				store.Discard(creds)
			} else {
				store.AddSuccessPath(req.URL(), creds)
			}
		}
		req.SetTryCredentials(nil)
	}

	if req.AutoRedirect() && status >= 300 && status <= 399 &&
		(status != 302 || req.Method() == "GET" || req.Method() == "HEAD") {
		return p.redirect(req)
	}

	if status == 401 {
		return p.challenge(req)
	}

	return false, nil
}

func (p *Policy) redirect(req Awaitable) (bool, error) {
	loc := firstHeader(req.Response(), "Location")
	if loc == "" {
		return false, nil
	}
	target, err := url.Parse(loc)
	if err != nil {
		return false, nil
	}
	// "resolve against current URL if relative" (spec.md §4.5); the
	// source additionally botches absolute-URL-without-host redirects,
	// which this resolves against req.URL() too rather than reproducing
	// the bug.
	resolved := req.URL().ResolveReference(target)

	if err := req.PrepareResend(resolved, p.newResponse(req.Method())); err != nil {
		p.log.WithError(err).Warn("redirect requires resending a body that cannot be rewound")
		return false, nil
	}
	return true, nil
}

func (p *Policy) challenge(req Awaitable) (bool, error) {
	store := p.pool.Credentials()
	if store == nil {
		return false, nil
	}
	space := auth.SpaceOf(req.URL())
	for _, raw := range req.Response().HeaderValues("WWW-Authenticate") {
		for _, ch := range auth.ParseChallenges(raw) {
			creds := store.MatchChallenge(space, ch)
			if creds == nil {
				continue
			}
			req.SetTryCredentials(creds)
			req.SetAuthorization(creds.AuthorizationHeader(ch))
			if err := req.PrepareResend(nil, p.newResponse(req.Method())); err != nil {
				p.log.WithError(err).Warn("auth retry requires resending a body that cannot be rewound")
				return false, nil
			}
			return true, nil
		}
	}
	return false, nil
}

func firstHeader(resp message.Response, name string) string {
	if resp == nil {
		return ""
	}
	values := resp.HeaderValues(name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
