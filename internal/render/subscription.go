package render

import (
	"github.com/John-Robertt/spider-clash/internal/extract"
	"github.com/John-Robertt/spider-clash/internal/model"
)

// Subscription joins the original link text of every exportable node and
// base64-encodes the result. It returns the blob and the number of links.
//
// Clash proxy mappings are not links and only appear in the Clash document.
func Subscription(nodes []model.Node) (string, int) {
	links := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Failed() || n.Raw == "" {
			continue
		}
		if n.Scheme == model.SchemeUnknown || n.Scheme == model.SchemeClashProxy {
			continue
		}
		links = append(links, n.Raw)
	}
	return extract.EncodeSubscription(links), len(links)
}
