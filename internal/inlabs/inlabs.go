/*
Package inlabs is a client for the INLABS portal that publishes the Diário
Oficial da União as downloadable archives and PDFs.
*/
package inlabs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/shanehull/douclip/internal/logger"
	"github.com/shanehull/douclip/internal/types"
)

const (
	DefaultBaseURL  = "https://inlabs.in.gov.br"
	DefaultTimeout  = 60 * time.Second
	DefaultMaxBytes = 200 << 20

	maxListingBytes = 8 << 20

	sessionCookie = "inlabs_session_cookie"
	logoutMarker  = "sair"
	userAgent     = "douclip/1.0"
)

var (
	// ErrAuth means the portal rejected the credentials or the session expired.
	ErrAuth = errors.New("inlabs authentication failed")
	// ErrNotFound means the requested file does not exist for that date.
	ErrNotFound = errors.New("inlabs file not found")
	// ErrUnexpectedHTML means an HTML page came back where a file was expected.
	ErrUnexpectedHTML = errors.New("inlabs returned html instead of a file")
)

type Config struct {
	BaseURL  string
	Email    string
	Password string
	Timeout  time.Duration
	MaxBytes int64
}

// Client holds one authenticated portal session. It is safe for concurrent
// use once Login has returned.
type Client struct {
	cfg  Config
	base *url.URL
	http *http.Client
	log  logger.Logger
}

func New(cfg Config, log logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid inlabs base url %q: %w", cfg.BaseURL, err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		cfg:  cfg,
		base: base,
		http: &http.Client{Timeout: cfg.Timeout, Jar: jar},
		log:  log,
	}, nil
}

// Login opens a session. Any outcome other than a confirmed session is ErrAuth.
func (c *Client) Login(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	form := url.Values{"email": {c.cfg.Email}, "password": {c.cfg.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("logar.php", nil),
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read login response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("login returned status %d: %w", resp.StatusCode, ErrAuth)
	}
	if !c.hasSession() && !strings.Contains(strings.ToLower(string(body)), logoutMarker) {
		return fmt.Errorf("no session after login: %w", ErrAuth)
	}

	c.log.Info("Logged in to INLABS", zap.String("base_url", c.base.String()))
	return nil
}

// ListCandidates returns the sorted, de-duplicated file names offered for date.
func (c *Client) ListCandidates(ctx context.Context, date time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	day := date.Format(types.DateLayout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint("index.php", url.Values{"p": {day}}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build listing request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", day, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-OK status code %d listing %s", resp.StatusCode, day)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing for %s: %w", day, err)
	}

	if isLoginPage(doc) {
		return nil, fmt.Errorf("listing %s returned the login form: %w", day, ErrAuth)
	}

	names := collectFileNames(doc)
	c.log.Debug("Listed INLABS files", zap.String("date", day), zap.Int("files", len(names)))
	return names, nil
}

// Fetch downloads one file published on date.
func (c *Client) Fetch(ctx context.Context, date time.Time, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	day := date.Format(types.DateLayout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint("index.php", url.Values{"p": {day}, "dl": {name}}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("received non-OK status code %d downloading %s", resp.StatusCode, name)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if int64(len(data)) > c.cfg.MaxBytes {
		return nil, fmt.Errorf("%s exceeds the %d byte limit", name, c.cfg.MaxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, fmt.Errorf("%s: %w", name, ErrUnexpectedHTML)
	}

	c.log.Debug("Downloaded INLABS file", zap.String("file", name), zap.Int("bytes", len(data)))
	return data, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	return c.http.Do(req)
}

func (c *Client) endpoint(p string, q url.Values) string {
	u := *c.base
	u.Path = path.Join("/", u.Path, p)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) hasSession() bool {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == sessionCookie && ck.Value != "" {
			return true
		}
	}
	return false
}

// isLoginPage reports whether doc contains the portal's login form.
func isLoginPage(doc *html.Node) bool {
	found := false
	var f func(*html.Node)
	f = func(n *html.Node) {
		if found {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "form":
				if strings.Contains(strings.ToLower(attr(n, "action")), "logar.php") {
					found = true
					return
				}
			case "input":
				if strings.EqualFold(attr(n, "type"), "password") {
					found = true
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)
	return found
}

// collectFileNames gathers every anchor's dl= parameter and every href that
// points at a downloadable file.
func collectFileNames(doc *html.Node) []string {
	seen := make(map[string]struct{})
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if name := fileNameFromHref(attr(n, "href")); name != "" {
				seen[name] = struct{}{}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fileNameFromHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if dl := strings.TrimSpace(u.Query().Get("dl")); dl != "" {
		return path.Base(dl)
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".zip", ".pdf", ".xml":
		return path.Base(u.Path)
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
