// Package registry drives the case-management web application through its HTML
// forms: login, record lookup, field reads, updates and attachments.
package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/net/html"
)

var (
	// ErrLoginFailed is returned when the session cannot be authenticated.
	ErrLoginFailed = goerr.New("registry login failed")
	// ErrRecordNotFound is returned when no listing entry refers to a case.
	ErrRecordNotFound = goerr.New("registry record not found")
	// ErrProtocol is returned when a page does not look the way it should.
	ErrProtocol = goerr.New("unexpected registry response")
)

const (
	recordFormID = "einsatzrapport_main_form"
	attachFormID = "frm_alarmdepesche"
	attachField  = "alarmdepesche"
	logoutAlt    = "LOGOUT"

	maxBodySize = 16 << 20
)

// Config holds the registry connection settings.
type Config struct {
	BaseURL  string
	Username string
	Password string `masq:"secret"`
	Timeout  time.Duration
}

// Session is an authenticated, cookie-bound connection to the registry.
type Session struct {
	base   *url.URL
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a session and logs in. It returns ErrLoginFailed when the
// credentials are not accepted.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid registry url", goerr.V("url", cfg.BaseURL))
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create cookie jar")
	}

	client := cleanhttp.DefaultPooledClient()
	client.Jar = jar
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}

	s := &Session{
		base:   base,
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "registry"),
	}

	s.logger.Info("connecting to registry", "url", cfg.BaseURL)
	if err := s.ensureSession(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("registry login succeeded")
	return s, nil
}

// IsAuthenticated reports whether the current cookies still belong to a
// logged-in session.
func (s *Session) IsAuthenticated(ctx context.Context) (bool, error) {
	doc, _, err := s.getPage(ctx, url.Values{"modul": {"16"}})
	if err != nil {
		return false, err
	}
	ok := hasAlt(doc, logoutAlt)
	s.logger.Debug("session check", "authenticated", ok)
	return ok, nil
}

// ensureSession logs in again when the session has expired.
func (s *Session) ensureSession(ctx context.Context) error {
	ok, err := s.IsAuthenticated(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if err := s.login(ctx); err != nil {
		return err
	}

	ok, err = s.IsAuthenticated(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return goerr.Wrap(ErrLoginFailed, "credentials rejected", goerr.V("user", s.cfg.Username))
	}
	return nil
}

func (s *Session) login(ctx context.Context) error {
	doc, pageURL, err := s.getPage(ctx, url.Values{"modul": {"9"}})
	if err != nil {
		return err
	}

	f, ok := findForm(doc, "")
	if !ok {
		return goerr.Wrap(ErrLoginFailed, "login page has no form")
	}
	if !f.set("login_member_name", s.cfg.Username) || !f.set("login_member_pwd", s.cfg.Password) {
		return goerr.Wrap(ErrLoginFailed, "login form lacks credential fields")
	}

	if _, err := s.submit(ctx, pageURL, f); err != nil {
		return goerr.Wrap(err, "failed to submit login form")
	}
	return nil
}

func (s *Session) pageURL(query url.Values) *url.URL {
	u := *s.base
	// keep the parameter order the registry itself uses in its links
	parts := make([]string, 0, len(query))
	for _, key := range []string{"modul", "what", "edit", "event"} {
		if v, ok := query[key]; ok {
			parts = append(parts, key+"="+url.QueryEscape(v[0]))
		}
	}
	u.RawQuery = strings.Join(parts, "&")
	return &u
}

// getPage fetches and parses a registry page.
func (s *Session) getPage(ctx context.Context, query url.Values) (*html.Node, *url.URL, error) {
	u := s.pageURL(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to build request", goerr.V("url", u.String()))
	}

	body, err := s.do(req)
	if err != nil {
		return nil, nil, err
	}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, nil, goerr.Wrap(ErrProtocol, "failed to parse page", goerr.V("url", u.String()), goerr.V("error", err.Error()))
	}
	return doc, u, nil
}

// submit sends the form like a browser would and returns the response body.
func (s *Session) submit(ctx context.Context, pageURL *url.URL, f *form) (string, error) {
	action, err := pageURL.Parse(f.action)
	if err != nil {
		return "", goerr.Wrap(ErrProtocol, "invalid form action", goerr.V("action", f.action))
	}

	var req *http.Request
	if f.method == http.MethodPost {
		body, contentType, err := f.encode()
		if err != nil {
			return "", goerr.Wrap(err, "failed to encode form", goerr.V("form", f.id))
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, action.String(), body)
		if err != nil {
			return "", goerr.Wrap(err, "failed to build request", goerr.V("url", action.String()))
		}
		req.Header.Set("Content-Type", contentType)
	} else {
		q := url.Values{}
		for _, kv := range f.values() {
			q.Add(kv[0], kv[1])
		}
		action.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, action.String(), nil)
		if err != nil {
			return "", goerr.Wrap(err, "failed to build request", goerr.V("url", action.String()))
		}
	}
	req.Header.Set("Referer", pageURL.String())

	return s.do(req)
}

func (s *Session) do(req *http.Request) (string, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return "", goerr.Wrap(err, "registry request failed", goerr.V("url", req.URL.String()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", goerr.Wrap(err, "failed to read registry response", goerr.V("url", req.URL.String()))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", goerr.Wrap(ErrProtocol, fmt.Sprintf("registry returned status %d", resp.StatusCode),
			goerr.V("url", req.URL.String()), goerr.V("status", resp.StatusCode))
	}
	return string(data), nil
}
