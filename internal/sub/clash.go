package sub

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/spider-clash/internal/model"
	"gopkg.in/yaml.v3"
)

type clashDocument struct {
	Proxies []map[string]any `yaml:"proxies"`
}

// LooksLikeClash is a cheap pre-check so plain text and HTML bodies are not
// fed through the YAML parser.
func LooksLikeClash(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimRight(line, " \t\r"), "proxies:") {
			return true
		}
	}
	return false
}

// ParseClashProxies decodes the proxies list of a Clash document. Each entry
// becomes a clashProxy node carrying the original mapping.
//
// server/port are taken only when both are present and well formed; anything
// else leaves the node without a probe target.
func ParseClashProxies(sourceURL, content string) ([]model.Node, error) {
	var doc clashDocument
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, &ParseError{
			AppError: model.AppError{
				Code:    "CLASH_PARSE_ERROR",
				Message: "Clash YAML 解析失败",
				Stage:   stage,
				URL:     sourceURL,
				Snippet: model.TruncateSnippet(content, 200),
			},
			Cause: err,
		}
	}
	if len(doc.Proxies) == 0 {
		return nil, &ParseError{
			AppError: model.AppError{
				Code:    "CLASH_PARSE_ERROR",
				Message: "Clash 文档中没有 proxies",
				Stage:   stage,
				URL:     sourceURL,
			},
			Cause: errors.New("empty proxies"),
		}
	}

	out := make([]model.Node, 0, len(doc.Proxies))
	for i, p := range doc.Proxies {
		out = append(out, clashNode(sourceURL, i, p))
	}
	return out, nil
}

func clashNode(sourceURL string, idx int, p map[string]any) model.Node {
	rawText, err := flowYAML(p)
	if err != nil {
		rawText = fmt.Sprintf("%v", p)
	}

	node := model.Node{
		Scheme:      model.SchemeClashProxy,
		DisplayName: scalarString(p["name"]),
		Transport:   p,
		Raw:         rawText,
		Source:      sourceURL,
	}
	if node.DisplayName == "" && scalarString(p["type"]) == "" {
		node.DecodeError = &model.AppError{
			Code:    "NODE_DECODE_ERROR",
			Message: fmt.Sprintf("第 %d 个 proxy 缺少 name/type", idx+1),
			Stage:   stage,
			URL:     sourceURL,
			Snippet: model.TruncateSnippet(rawText, 200),
		}
		return node
	}

	for _, k := range []string{"uuid", "password"} {
		if v := scalarString(p[k]); v != "" {
			node.Identifier = v
			break
		}
	}

	server := strings.TrimSpace(scalarString(p["server"]))
	if port, err := parsePort(scalarString(p["port"])); err == nil && server != "" {
		node.Address, node.Port = server, port
	}
	return node
}

// flowYAML renders the mapping on one line so it survives as a plain string.
func flowYAML(p map[string]any) (string, error) {
	var n yaml.Node
	if err := n.Encode(p); err != nil {
		return "", err
	}
	n.Style = yaml.FlowStyle
	b, err := yaml.Marshal(&n)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
