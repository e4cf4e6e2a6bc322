// Package rules parses the extra routing rules configured for the Clash
// document. Lines use the Clash classical form TYPE,VALUE,ACTION[,no-resolve].
package rules

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/John-Robertt/spider-clash/internal/model"
)

const stage = "config"

type RuleError struct {
	Code    string
	Message string
	Hint    string
	Cause   error
}

func (e *RuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }

// ParseError locates a RuleError inside the configured rule list.
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

// ParseExtraRules parses configured rule lines. Blank lines and # comments
// are skipped. Every rule must carry an ACTION from actions (matched
// case-sensitively, as Clash does); MATCH is refused because the document
// always ends with its own catch-all.
func ParseExtraRules(lines []string, actions []string) ([]model.Rule, error) {
	allowed := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		allowed[a] = struct{}{}
	}

	out := make([]model.Rule, 0, len(lines))
	for i, raw := range lines {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r, err := ParseRule(line)
		if err == nil && len(allowed) > 0 {
			if _, ok := allowed[r.Action]; !ok {
				err = &RuleError{
					Code:    "RULE_PARSE_ERROR",
					Message: fmt.Sprintf("未知的 ACTION：%s", r.Action),
					Hint:    "allowed: " + strings.Join(actions, ", "),
				}
			}
		}
		if err != nil {
			var rerr *RuleError
			if !errors.As(err, &rerr) {
				rerr = &RuleError{Code: "RULE_PARSE_ERROR", Message: "invalid rule line", Cause: err}
			}
			return nil, &ParseError{
				AppError: model.AppError{
					Code:    rerr.Code,
					Message: rerr.Message,
					Stage:   stage,
					Line:    i + 1,
					Snippet: model.TruncateSnippet(raw, 200),
					Hint:    rerr.Hint,
				},
				Cause: rerr,
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// ParseRule parses a single rule line. ACTION is required.
func ParseRule(line string) (model.Rule, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则类型不能为空"}
	}

	typ := strings.ToUpper(parts[0])
	switch typ {
	case "DOMAIN", "DOMAIN-SUFFIX", "DOMAIN-KEYWORD", "GEOIP":
		if len(parts) != 3 {
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "规则字段数量不合法",
				Hint:    "expected: TYPE,VALUE,ACTION",
			}
		}
		if parts[1] == "" || parts[2] == "" {
			return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则 VALUE/ACTION 不能为空"}
		}
		return model.Rule{Type: typ, Value: parts[1], Action: parts[2]}, nil
	case "IP-CIDR", "IP-CIDR6":
		return parseCIDR(typ, parts)
	case "MATCH":
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: "额外规则中不允许 MATCH",
			Hint:    "the document always ends with MATCH,Proxy",
		}
	default:
		return model.Rule{}, &RuleError{
			Code:    "UNSUPPORTED_RULE_TYPE",
			Message: fmt.Sprintf("不支持的规则类型：%s", typ),
		}
	}
}

func parseCIDR(typ string, parts []string) (model.Rule, error) {
	hint := "expected: " + typ + ",CIDR,ACTION[,no-resolve]"
	if len(parts) != 3 && len(parts) != 4 {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: typ + " 规则字段数量不合法",
			Hint:    hint,
		}
	}
	if parts[2] == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: typ + " 的 ACTION 不能为空"}
	}
	if strings.EqualFold(parts[2], "no-resolve") {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: typ + " 缺少 ACTION（不允许仅写 no-resolve）",
			Hint:    hint,
		}
	}
	noResolve := false
	if len(parts) == 4 {
		if !strings.EqualFold(parts[3], "no-resolve") {
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: typ + " 的可选项仅支持 no-resolve",
				Hint:    hint,
			}
		}
		noResolve = true
	}
	if err := validateCIDR(parts[1], typ == "IP-CIDR6"); err != nil {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: typ + " 的 CIDR 不合法",
			Hint:    hint,
			Cause:   err,
		}
	}
	return model.Rule{Type: typ, Value: parts[1], Action: parts[2], NoResolve: noResolve}, nil
}

func validateCIDR(s string, v6 bool) error {
	ip, _, err := net.ParseCIDR(s)
	if err != nil {
		return err
	}
	if isV4 := ip.To4() != nil; isV4 == v6 {
		if v6 {
			return errors.New("not an ipv6 cidr")
		}
		return errors.New("not an ipv4 cidr")
	}
	return nil
}
