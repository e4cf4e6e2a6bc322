package sub

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/John-Robertt/spider-clash/internal/extract"
	"github.com/John-Robertt/spider-clash/internal/model"
)

// vmessConfig is the v2rayN share format. port/aid show up as both JSON
// numbers and strings in the wild.
type vmessConfig struct {
	PS   string     `json:"ps"`
	Add  string     `json:"add"`
	Port flexString `json:"port"`
	ID   string     `json:"id"`
	Net  string     `json:"net"`
	TLS  string     `json:"tls"`
	Aid  flexString `json:"aid"`
	Scy  string     `json:"scy"`
	Path string     `json:"path"`
	Host string     `json:"host"`
	SNI  string     `json:"sni"`
	Type string     `json:"type"`
}

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func decodeVmess(link string) model.Node {
	payload := link[len("vmess://"):]
	if payload == "" {
		return failed(model.SchemeVmess, link, "vmess:// 后缺少内容", nil)
	}
	raw, err := extract.DecodeBase64(payload)
	if err != nil {
		return failed(model.SchemeVmess, link, "vmess base64 解码失败", err)
	}

	var cfg vmessConfig
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&cfg); err != nil {
		return failed(model.SchemeVmess, link, "vmess JSON 解析失败", err)
	}

	server := strings.TrimSpace(cfg.Add)
	if server == "" {
		return failed(model.SchemeVmess, link, "vmess 缺少 add", nil)
	}
	port, err := parsePort(string(cfg.Port))
	if err != nil {
		return failed(model.SchemeVmess, link, "vmess port 不合法", err)
	}

	transport := map[string]any{
		"net":  cfg.Net,
		"tls":  cfg.TLS,
		"aid":  string(cfg.Aid),
		"scy":  cfg.Scy,
		"path": cfg.Path,
		"host": cfg.Host,
	}
	if cfg.SNI != "" {
		transport["sni"] = cfg.SNI
	}
	if cfg.Type != "" {
		transport["type"] = cfg.Type
	}

	return model.Node{
		Scheme:      model.SchemeVmess,
		Address:     server,
		Port:        port,
		Identifier:  strings.TrimSpace(cfg.ID),
		DisplayName: strings.TrimSpace(cfg.PS),
		Transport:   transport,
		Raw:         link,
	}
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty port")
	}
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if p < 1 || p > 65535 {
		return 0, errors.New("port out of range")
	}
	return p, nil
}
