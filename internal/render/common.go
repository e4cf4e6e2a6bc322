package render

import (
	"fmt"

	"github.com/John-Robertt/spider-clash/internal/model"
)

func ruleToClashString(r model.Rule) string {
	if r.Type == "MATCH" {
		return fmt.Sprintf("MATCH,%s", r.Action)
	}
	if (r.Type == "IP-CIDR" || r.Type == "IP-CIDR6") && r.NoResolve {
		return fmt.Sprintf("%s,%s,%s,no-resolve", r.Type, r.Value, r.Action)
	}
	return fmt.Sprintf("%s,%s,%s", r.Type, r.Value, r.Action)
}

// uniqueNames assigns deterministic, collision-free names in input order:
// the first holder of a name keeps it, later ones become base-2, base-3 ...
// Reserved names (policies and generated groups) are never handed out.
func uniqueNames(bases []string, reserved ...string) []string {
	used := make(map[string]struct{}, len(bases)+len(reserved))
	for _, r := range reserved {
		used[r] = struct{}{}
	}
	out := make([]string, len(bases))
	for i, base := range bases {
		name := base
		if _, taken := used[name]; taken {
			for n := 2; ; n++ {
				try := fmt.Sprintf("%s-%d", base, n)
				if _, ok := used[try]; !ok {
					name = try
					break
				}
			}
		}
		used[name] = struct{}{}
		out[i] = name
	}
	return out
}
