package extract

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinks_FindsVmessInText(t *testing.T) {
	text := "Some text here vmess://eydhZGQnOiAnMTI3LjAuMC4xJ30= and more text"
	links := Links(text)
	require.Len(t, links, 1)
	assert.Equal(t, "vmess://eydhZGQnOiAnMTI3LjAuMC4xJ30=", links[0])
}

func TestLinks_KeepsURIFormsIntact(t *testing.T) {
	in := []string{
		"vless://0f5c4b1e-1111-2222-3333-444455556666@example.com:443?security=tls&type=ws&path=%2Fws#HK%2001",
		"trojan://secret@[2001:db8::1]:443?sni=example.com#t1",
		"ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#Node%201",
		"shadowsocks://YWVzLTEyOC1nY206cGFzcw==@example.com:8389",
	}
	html := "<p>" + strings.Join(in, "</p>\n<p>") + "</p>"

	assert.Equal(t, in, Links(html))
}

func TestLinks_DeduplicatesInFirstSeenOrder(t *testing.T) {
	text := "vmess://b vmess://a vmess://b"
	assert.Equal(t, []string{"vmess://b", "vmess://a"}, Links(text))
}

func TestDecodeSubscription_RoundTrip(t *testing.T) {
	links := []string{"vmess://abc", "vmess://def", "trojan://p@h:1#x"}
	got, err := DecodeSubscription(EncodeSubscription(links))
	require.NoError(t, err)
	assert.Equal(t, links, got)
}

func TestDecodeSubscription_IgnoresWhitespaceAndCRLF(t *testing.T) {
	raw := "vmess://abc\r\n\r\nvmess://def\r\n"
	b64 := base64.StdEncoding.EncodeToString([]byte(raw))
	wrapped := b64[:8] + "\n  " + b64[8:] + "\n"

	got, err := DecodeSubscription(wrapped)
	require.NoError(t, err)
	assert.Equal(t, []string{"vmess://abc", "vmess://def"}, got)
}

func TestDecodeSubscription_URLSafeUnpadded(t *testing.T) {
	raw := "ss://a?b>c\nvmess://x"
	b64 := base64.RawURLEncoding.EncodeToString([]byte(raw))

	got, err := DecodeSubscription(b64)
	require.NoError(t, err)
	assert.Equal(t, []string{"ss://a?b>c", "vmess://x"}, got)
}

func TestDecodeSubscription_MalformedReturnsTypedError(t *testing.T) {
	_, err := DecodeSubscription("<html>not base64</html>")
	var de *DecodeError
	require.True(t, errors.As(err, &de), "got %T", err)
	assert.Equal(t, "SUB_BASE64_DECODE_ERROR", de.AppError.Code)
	assert.Equal(t, "extract", de.AppError.Stage)
}

func TestExtract_Base64BodyAndRawText(t *testing.T) {
	body := EncodeSubscription([]string{"vmess://aaa", "trojan://pw@example.com:443"})
	got := Extract(body)
	assert.Equal(t, []string{"vmess://aaa", "trojan://pw@example.com:443"}, got)

	// Not base64: only the pattern stage contributes.
	got = Extract("free nodes: vmess://zzz, see ya")
	assert.Equal(t, []string{"vmess://zzz"}, got)
}

func TestExtract_EmptyInput(t *testing.T) {
	assert.Empty(t, Extract(""))
	assert.Empty(t, Extract("   \n"))
}

func TestExtract_DecodedLinesKeptVerbatim(t *testing.T) {
	links := []string{
		"trojan://pw@h.example:443?sni=a.example#香港 01",
		"vless://u@h.example:443?security=tls&alpn=h2,http/1.1&type=ws#n",
		"ss://YWVzLTEyOC1nY206cHc@1.2.3.4:8388#(HK)",
		"VMESS://eydhZGQnOiAnMTI3LjAuMC4xJ30=",
	}
	body := EncodeSubscription(append([]string{"# comment line", "STATUS=ok"}, links...))

	got := Extract(body)
	assert.Equal(t, links, got)

	// Re-encoding what was extracted reproduces the original links.
	back, err := DecodeSubscription(EncodeSubscription(got))
	require.NoError(t, err)
	assert.Equal(t, links, back)
}

func TestLinks_RawTextKeepsQueryAndFragment(t *testing.T) {
	text := `<a href="vless://u@h.example:443?alpn=h2,http/1.1&type=ws#(HK)">x</a> trojan://pw@t.example:443#名字 tail`
	assert.Equal(t, []string{
		"vless://u@h.example:443?alpn=h2,http/1.1&type=ws#(HK)",
		"trojan://pw@t.example:443#名字",
	}, Links(text))
}
