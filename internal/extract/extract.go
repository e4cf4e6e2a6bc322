// Package extract pulls candidate node links out of arbitrary text, HTML and
// base64 subscription bodies. Everything here is pure: no I/O, no panics on
// malformed input.
package extract

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/spider-clash/internal/model"
)

// vmess links carry a bare base64 token; the URI-style schemes run until
// whitespace, a quote or an angle bracket so query values and fragments
// survive intact.
var linkPattern = regexp.MustCompile(
	`vmess://[A-Za-z0-9+/=_\-]+` +
		`|(?:vless|trojan|shadowsocks|ss)://[^\s"'<>]+`,
)

var linkPrefixes = []string{"vmess://", "vless://", "trojan://", "shadowsocks://", "ss://"}

// isLink reports whether a decoded subscription line starts with a known
// scheme, compared case-insensitively.
func isLink(line string) bool {
	for _, p := range linkPrefixes {
		if len(line) >= len(p) && strings.EqualFold(line[:len(p)], p) {
			return true
		}
	}
	return false
}

type DecodeError struct {
	AppError model.AppError
	Cause    error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// Links returns every substring of text that looks like a node link, in
// first-seen order without duplicates.
func Links(text string) []string {
	matches := linkPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// DecodeSubscription decodes a base64 subscription body into its non-empty
// lines. Whitespace anywhere in the blob is ignored.
func DecodeSubscription(blob string) ([]string, error) {
	s := removeWhitespace(strings.TrimPrefix(blob, "\uFEFF"))
	if s == "" {
		return nil, newDecodeError("SUB_EMPTY", "订阅内容为空", blob, nil)
	}
	b, err := DecodeBase64(s)
	if err != nil {
		return nil, newDecodeError("SUB_BASE64_DECODE_ERROR", "订阅 base64 解码失败", blob, err)
	}
	if !utf8.Valid(b) {
		return nil, newDecodeError("SUB_BASE64_DECODE_ERROR", "订阅解码结果不是合法 UTF-8", blob, nil)
	}

	decoded := strings.TrimPrefix(string(b), "\uFEFF")
	lines := strings.FieldsFunc(decoded, func(r rune) bool { return r == '\n' || r == '\r' })
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if len(out) == 0 {
		return nil, newDecodeError("SUB_EMPTY", "订阅解码后没有内容", blob, nil)
	}
	return out, nil
}

// EncodeSubscription is the inverse of DecodeSubscription.
func EncodeSubscription(links []string) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(links, "\n")))
}

// Extract runs both stages on one blob: lines of a base64 subscription body
// that start with a known scheme first, then pattern matches on the raw text. A blob
// that is not valid base64 simply contributes nothing to the first stage.
func Extract(blob string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(links []string) {
		for _, l := range links {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}

	// Decoded lines are kept verbatim: they are the subscription's own
	// links and get re-exported as they came.
	if lines, err := DecodeSubscription(blob); err == nil {
		var links []string
		for _, l := range lines {
			if isLink(l) {
				links = append(links, l)
			}
		}
		add(links)
	}
	add(Links(blob))
	return out
}

// DecodeBase64 tries the standard alphabet (with padding) first, then
// URL-safe, then the unpadded variants.
func DecodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no base64 alphabet matched")
	}
	return nil, lastErr
}

func removeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n', '\v', '\f':
			continue
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func newDecodeError(code, message, blob string, cause error) error {
	return &DecodeError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "extract",
			Snippet: model.TruncateSnippet(blob, 200),
		},
		Cause: cause,
	}
}
