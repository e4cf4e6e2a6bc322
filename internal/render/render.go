// Package render turns a node set into distribution artifacts: a Clash
// routing document and a base64 subscription blob. Both are pure functions
// of their input; nodes are never mutated.
package render

import (
	"fmt"

	"github.com/John-Robertt/spider-clash/internal/model"
)

type RenderError struct {
	AppError model.AppError
	Cause    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

// Artifacts is the rendered output for one node set.
type Artifacts struct {
	Clash        []byte
	Subscription string

	Proxies int // entries in the Clash document
	Links   int // links in the subscription blob
}

// Render builds both artifacts for nodes.
func Render(nodes []model.Node, opt ClashOptions) (Artifacts, error) {
	doc, err := Clash(nodes, opt)
	if err != nil {
		return Artifacts{}, err
	}
	y, err := doc.YAML()
	if err != nil {
		return Artifacts{}, &RenderError{
			AppError: model.AppError{
				Code:    "RENDER_ERROR",
				Message: "Clash YAML 序列化失败",
				Stage:   "render",
			},
			Cause: err,
		}
	}
	blob, n := Subscription(nodes)
	return Artifacts{
		Clash:        y,
		Subscription: blob,
		Proxies:      len(doc.Proxies),
		Links:        n,
	}, nil
}
