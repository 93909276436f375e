// Package upstream performs single-attempt GETs against the remote site while
// presenting a browser identity.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/andesco/aniproxy/pkg/ruleset"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNetworkFailure      = errors.New("network failure")
)

// FetchError is returned for every failed fetch. Kind is one of the sentinels
// above and is matched through errors.Is.
type FetchError struct {
	Kind   error
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%v: %s returned %d", e.Kind, e.URL, e.Status)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Response is a fully read upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type Fetcher struct {
	client    *http.Client
	userAgent string
	rules     ruleset.RuleSet
}

// New returns a Fetcher whose requests are bounded by timeout.
// An empty userAgent selects DefaultUserAgent.
func New(timeout time.Duration, userAgent string, rules ruleset.RuleSet) *Fetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		rules:     rules,
	}
}

// Fetch makes exactly one attempt. Any non 2xx status is ErrUpstreamUnavailable,
// transport and body read failures are ErrNetworkFailure.
func (f *Fetcher) Fetch(ctx context.Context, target string, header http.Header) (*Response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("error parsing target URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("error building request for %s: %w", u, err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	f.applyIdentity(req, f.rules.Match(u.Hostname(), u.Path))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: ErrNetworkFailure, URL: u.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{Kind: ErrUpstreamUnavailable, URL: u.String(), Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: ErrNetworkFailure, URL: u.String(), Err: err}
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (f *Fetcher) applyIdentity(req *http.Request, rule ruleset.Rule) {
	if rule.Headers.UserAgent != "" {
		req.Header.Set("User-Agent", rule.Headers.UserAgent)
	} else {
		req.Header.Set("User-Agent", f.userAgent)
	}

	setOrRemove(req.Header, "Referer", rule.Headers.Referer)
	setOrRemove(req.Header, "X-Forwarded-For", rule.Headers.XForwardedFor)
	if rule.Headers.Cookie != "" {
		req.Header.Set("Cookie", rule.Headers.Cookie)
	}
}

func setOrRemove(h http.Header, key, value string) {
	switch value {
	case "":
	case ruleset.None:
		h.Del(key)
	default:
		h.Set(key, value)
	}
}
