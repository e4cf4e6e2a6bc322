package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

func setAttachmentHeaders(w http.ResponseWriter, fileName, defaultBase, ext string) error {
	filename, err := outputFileName(fileName, defaultBase, ext)
	if err != nil {
		return err
	}
	// Add both filename and filename* for better UTF-8 compatibility.
	w.Header().Set("Content-Disposition", contentDispositionAttachment(filename))
	return nil
}

func outputFileName(fileName, defaultBase, ext string) (string, error) {
	base := strings.TrimSpace(fileName)
	if base == "" {
		base = defaultBase
	}
	if strings.ContainsAny(base, "\r\n\x00") {
		return "", requestError("INVALID_ARGUMENT", "fileName 含有非法控制字符", "")
	}
	if strings.Contains(base, "/") || strings.Contains(base, "\\") {
		return "", requestError("INVALID_ARGUMENT", "fileName 不允许包含路径分隔符", "")
	}
	if len(base) > 200 {
		return "", requestError("INVALID_ARGUMENT", "fileName 过长", "max=200 bytes")
	}
	if !hasExt(base) {
		base += ext
	}
	return base, nil
}

func hasExt(name string) bool {
	i := strings.LastIndexByte(name, '.')
	return i > 0 && i < len(name)-1
}

func contentDispositionAttachment(filename string) string {
	// RFC 6266 + RFC 5987.
	escaped := strings.ReplaceAll(filename, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", escaped, pctEncode(filename))
}

func pctEncode(s string) string {
	// url.QueryEscape uses '+' for spaces; rewrite to %20.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
