// Package sub decodes node links and Clash proxy lists into model.Node.
//
// Decoding never fails towards the caller: a malformed link becomes a Node
// tagged with DecodeError, with Raw preserved.
package sub

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/spider-clash/internal/model"
)

const stage = "decode"

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Decode converts one raw link into exactly one Node.
func Decode(link string) model.Node {
	link = strings.TrimSpace(link)
	scheme, _, ok := strings.Cut(link, "://")
	if !ok {
		return model.Node{Scheme: model.SchemeUnknown, Raw: link}
	}

	switch strings.ToLower(scheme) {
	case "vmess":
		return decodeVmess(link)
	case "ss", "shadowsocks":
		return decodeSS(link)
	case "vless":
		return decodeUserinfoURI(model.SchemeVless, link)
	case "trojan":
		return decodeUserinfoURI(model.SchemeTrojan, link)
	default:
		return model.Node{Scheme: model.SchemeUnknown, Raw: link}
	}
}

// DecodeAll decodes links in order, tagging each node with source.
func DecodeAll(source string, links []string) []model.Node {
	out := make([]model.Node, 0, len(links))
	for _, l := range links {
		n := Decode(l)
		n.Source = source
		out = append(out, n)
	}
	return out
}

func failed(scheme model.Scheme, link, message string, cause error) model.Node {
	app := &model.AppError{
		Code:    "NODE_DECODE_ERROR",
		Message: message,
		Stage:   stage,
		Snippet: model.TruncateSnippet(link, 200),
	}
	if cause != nil {
		app.Hint = cause.Error()
	}
	return model.Node{Scheme: scheme, Raw: link, DecodeError: app}
}
