package model

// AppError is the error payload shared by every pipeline stage. Stage-local
// failures are recorded with it instead of aborting the run.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`

	URL     string `json:"url,omitempty"`
	Line    int    `json:"line,omitempty"`    // 1-based; 0 means "not set"
	Snippet string `json:"snippet,omitempty"` // truncated to 200 chars
	Hint    string `json:"hint,omitempty"`
}

func (e AppError) String() string {
	s := e.Stage + ": " + e.Code + ": " + e.Message
	if e.URL != "" {
		s += " (" + e.URL + ")"
	}
	return s
}

type ErrorResponse struct {
	Error AppError `json:"error"`
}

// TruncateSnippet drops CR/LF and cuts s to at most max bytes.
func TruncateSnippet(s string, max int) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' || s[i] == '\n' {
			continue
		}
		out = append(out, s[i])
	}
	if max <= 0 {
		return ""
	}
	if len(out) > max {
		out = out[:max]
	}
	return string(out)
}
