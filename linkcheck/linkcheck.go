// Package linkcheck validates URLs extracted by agent tasks (official sites,
// booking links) without spending a browser session on them. Requests carry a
// Chrome TLS fingerprint so reachability checks see what a real browser would.
package linkcheck

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tls2 "github.com/refraction-networking/utls"
	"golang.org/x/net/html"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// checkTimeout bounds one link check.
const checkTimeout = 10 * time.Second

// maxProbeBody bounds how much of the response body is read for the title.
const maxProbeBody = 64 << 10

// Result is the outcome of checking one link.
type Result struct {
	URL        string `json:"url"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	FinalURL   string `json:"final_url,omitempty"`
	Title      string `json:"title,omitempty"`
	Error      string `json:"error,omitempty"`

	// Challenge marks a link that answered successfully but whose page title
	// looks like an anti-bot interstitial rather than real content.
	Challenge bool `json:"challenge,omitempty"`
}

// Checker validates links over plain HTTP with a Chrome TLS fingerprint.
type Checker struct {
	proxy string
}

// NewChecker creates a Checker. proxy may be empty.
func NewChecker(proxy string) *Checker {
	return &Checker{proxy: proxy}
}

// CheckAll validates the links concurrently, capped at maxConcurrent, and
// returns one result per input URL in input order.
func (c *Checker) CheckAll(ctx context.Context, urls []string, maxConcurrent int) []Result {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	results := make([]Result, len(urls))
	sem := make(chan struct{}, maxConcurrent)

	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(idx int, target string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = c.Check(ctx, target)
		}(i, u)
	}
	wg.Wait()

	return results
}

// Check validates one link: parseable, resolvable, and answering below 400.
func (c *Checker) Check(ctx context.Context, target string) Result {
	result := Result{URL: target}

	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		result.Error = "not an absolute http(s) URL"
		return result
	}

	reqCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, network, addr)
		},
	}
	if c.proxy != "" {
		if proxyURL, perr := url.Parse(c.proxy); perr == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	client := &http.Client{Transport: transport}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	req.Header.Set("User-Agent", chromeUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.FinalURL = resp.Request.URL.String()
	result.OK = resp.StatusCode < 400

	if result.OK && isHTMLContentType(resp.Header.Get("Content-Type")) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
		result.Title = extractTitle(string(body))
		result.Challenge = looksLikeChallenge(result.Title)
	}
	return result
}

func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// extractTitle finds the first <title> element with the HTML tokenizer.
func extractTitle(htmlStr string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	inTitle := false
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}

// challengeTitles are title fragments of common anti-bot interstitials.
var challengeTitles = []string{
	"captcha",
	"just a moment",
	"attention required",
	"access denied",
	"verify you are human",
	"are you a robot",
}

func looksLikeChallenge(title string) bool {
	lower := strings.ToLower(title)
	for _, frag := range challengeTitles {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint via utls.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls2.UClient(rawConn, &tls2.Config{
		ServerName: host,
	}, tls2.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
