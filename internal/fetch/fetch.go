// Package fetch downloads pages and subscription files over http(s) with a
// bounded body size and redirect chain.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/spider-clash/internal/model"
)

type Kind int

const (
	KindPage Kind = iota
	KindSubscription
)

func (k Kind) stage() string {
	switch k {
	case KindPage:
		return "fetch_page"
	case KindSubscription:
		return "fetch_sub"
	default:
		return "fetch"
	}
}

func (k Kind) String() string { return k.stage() }

func (k Kind) defaultMaxBytes() int64 {
	switch k {
	case KindSubscription:
		return 5 * 1024 * 1024
	default:
		return 2 * 1024 * 1024
	}
}

// DefaultUserAgent mimics a desktop browser; several share sites serve an
// empty page to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type Options struct {
	Timeout      time.Duration // default 15s
	MaxBytes     int64         // default per kind
	MaxRedirects int           // default 5
	UserAgent    string
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = 5
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}

type FetchError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

// Fetcher issues GET requests through one shared client.
type Fetcher struct {
	opt    Options
	client *http.Client
}

func New(opt Options) *Fetcher {
	opt = opt.withDefaults()
	maxRedirects := opt.MaxRedirects
	return &Fetcher{
		opt: opt,
		client: &http.Client{
			Timeout:   opt.Timeout,
			Transport: http.DefaultTransport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// 1st redirect => len(via)==1
				if len(via) > maxRedirects {
					return errTooManyRedirects
				}
				if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
					return errRedirectBadScheme
				}
				return nil
			},
		},
	}
}

// FetchText fetches rawURL with default options.
func FetchText(ctx context.Context, kind Kind, rawURL string) (string, error) {
	return New(Options{}).Fetch(ctx, kind, rawURL)
}

func FetchTextWithOptions(ctx context.Context, kind Kind, rawURL string, opt Options) (string, error) {
	return New(opt).Fetch(ctx, kind, rawURL)
}

// Fetch returns the response body as text. Subscription bodies must be
// valid UTF-8; page bodies have invalid sequences replaced.
func (f *Fetcher) Fetch(ctx context.Context, kind Kind, rawURL string) (string, error) {
	stage := kind.stage()
	fail := func(status int, code, msg string, cause error) error {
		return &FetchError{
			Status: status,
			AppError: model.AppError{
				Code:    code,
				Message: msg,
				Stage:   stage,
				URL:     rawURL,
			},
			Cause: cause,
		}
	}

	maxBytes := f.opt.MaxBytes
	if maxBytes == 0 {
		maxBytes = kind.defaultMaxBytes()
	}
	if maxBytes < 0 {
		return "", fail(http.StatusBadRequest, "INVALID_ARGUMENT", "响应大小上限必须大于 0", nil)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fail(http.StatusBadRequest, "INVALID_ARGUMENT", "仅允许 http/https URL", errors.Join(errInvalidURLOrScheme, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fail(http.StatusBadRequest, "INVALID_ARGUMENT", "请求 URL 不合法", err)
	}
	req.Header.Set("User-Agent", f.opt.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		switch {
		case errors.Is(err, errTooManyRedirects):
			return "", fail(http.StatusBadGateway, "FETCH_FAILED", fmt.Sprintf("重定向次数超过上限（>%d）", f.opt.MaxRedirects), err)
		case errors.Is(err, errRedirectBadScheme):
			return "", fail(http.StatusBadRequest, "INVALID_ARGUMENT", "重定向目标仅允许 http/https", err)
		case isTimeout(err):
			return "", fail(http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", err)
		default:
			return "", fail(http.StatusBadGateway, "FETCH_FAILED", "拉取远程资源失败", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fail(http.StatusBadGateway, "FETCH_FAILED", fmt.Sprintf("上游返回非 2xx 状态码：%d", resp.StatusCode), nil)
	}

	// Read at most maxBytes+1 to detect overflow deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return "", fail(http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", err)
		}
		return "", fail(http.StatusBadGateway, "FETCH_FAILED", "读取上游响应失败", err)
	}
	if int64(len(body)) > maxBytes {
		return "", fail(http.StatusUnprocessableEntity, "TOO_LARGE", fmt.Sprintf("远程资源过大（>%d bytes）", maxBytes), nil)
	}
	if !utf8.Valid(body) {
		if kind == KindPage {
			return strings.ToValidUTF8(string(body), "\uFFFD"), nil
		}
		return "", fail(http.StatusUnprocessableEntity, "FETCH_INVALID_UTF8", "远程资源不是合法 UTF-8 文本", nil)
	}
	return string(body), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
