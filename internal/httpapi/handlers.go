package httpapi

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/John-Robertt/spider-clash/internal/publish"
	"github.com/John-Robertt/spider-clash/internal/render"
)

const indexText = `spider-clash

GET /sub            base64 subscription (set=available|all, encode=base64|raw, fileName=...)
GET /clash          Clash YAML config (set=available|all, fileName=...)
GET /api/runs/latest  latest run log (JSON)
GET /healthz
GET /metrics
`

func handleIndex(w http.ResponseWriter, _ *http.Request) {
	WriteText(w, http.StatusOK, indexText)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	WriteText(w, http.StatusOK, "ok\n")
}

func (s *server) handleSub(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := rejectUnknown(q, "set", "encode", "fileName"); err != nil {
		s.writeErrorFromErr(w, err)
		return
	}
	encode, err := singleQuery(q, "encode", false)
	if err != nil {
		s.writeErrorFromErr(w, err)
		return
	}
	if encode == "" {
		encode = "base64"
	}
	if encode != "base64" && encode != "raw" {
		s.writeErrorFromErr(w, requestError("INVALID_ARGUMENT", "encode 参数不合法", "use base64 or raw"))
		return
	}

	a, err := s.selectArtifacts(q)
	if err != nil {
		s.writeErrorFromErr(w, err)
		return
	}
	fileName, err := singleQuery(q, "fileName", false)
	if err != nil {
		s.writeErrorFromErr(w, err)
		return
	}
	if err := setAttachmentHeaders(w, fileName, "subscribe", ".txt"); err != nil {
		s.writeErrorFromErr(w, err)
		return
	}

	body := a.Subscription
	if encode == "raw" {
		raw, err := base64.StdEncoding.DecodeString(a.Subscription)
		if err != nil {
			s.writeErrorFromErr(w, err)
			return
		}
		body = string(raw)
	}
	WriteText(w, http.StatusOK, body)
}

func (s *server) handleClash(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := rejectUnknown(q, "set", "fileName"); err != nil {
		s.writeErrorFromErr(w, err)
		return
	}
	a, err := s.selectArtifacts(q)
	if err != nil {
		s.writeErrorFromErr(w, err)
		return
	}
	fileName, err := singleQuery(q, "fileName", false)
	if err != nil {
		s.writeErrorFromErr(w, err)
		return
	}
	if err := setAttachmentHeaders(w, fileName, "clash", ".yaml"); err != nil {
		s.writeErrorFromErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Clash)
}

func (s *server) handleLatestRun(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.opt.Store.Latest()
	if !ok {
		s.writeErrorFromErr(w, errNotReady)
		return
	}
	WriteJSON(w, http.StatusOK, snap.RunLog)
}

// selectArtifacts resolves ?set= against the latest snapshot.
func (s *server) selectArtifacts(q url.Values) (*render.Artifacts, error) {
	set, err := singleQuery(q, "set", false)
	if err != nil {
		return nil, err
	}
	if set == "" {
		set = "available"
	}
	if set != "available" && set != "all" {
		return nil, requestError("INVALID_ARGUMENT", "set 参数不合法", "use available or all")
	}

	snap, ok := s.opt.Store.Latest()
	if !ok {
		return nil, errNotReady
	}
	return pickSet(snap, set)
}

func pickSet(snap publish.Artifacts, set string) (*render.Artifacts, error) {
	a := snap.Available
	if set == "all" {
		a = snap.Full
	}
	if a != nil {
		return a, nil
	}
	if snap.Full == nil {
		return nil, errNotReady
	}
	return nil, apiError(http.StatusNotFound, modelNotFound(set), nil)
}

func singleQuery(q url.Values, key string, required bool) (string, error) {
	values, ok := q[key]
	if !ok || len(values) == 0 {
		if required {
			return "", requestError("INVALID_ARGUMENT", fmt.Sprintf("缺少 %s 参数", key), "")
		}
		return "", nil
	}
	if len(values) != 1 {
		return "", requestError("INVALID_ARGUMENT", fmt.Sprintf("%s 参数只能出现一次", key), "")
	}
	return values[0], nil
}

func rejectUnknown(q url.Values, allowed ...string) error {
	for key := range q {
		known := false
		for _, a := range allowed {
			if key == a {
				known = true
				break
			}
		}
		if !known {
			return requestError("INVALID_ARGUMENT", fmt.Sprintf("未知参数 %s", key), "")
		}
	}
	return nil
}
