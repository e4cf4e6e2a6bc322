package model

import "time"

type RunState string

const (
	StateDiscover    RunState = "discover"
	StateDecodeDedup RunState = "decode_dedup"
	StateProbe       RunState = "probe"
	StatePublish     RunState = "publish"
	StateDone        RunState = "done"
	StateFailed      RunState = "failed"
)

// RunLog is produced once per run, on both the Done and the Failed path.
type RunLog struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`

	TotalLinks         int `json:"total_links"`
	ValidFormatNodes   int `json:"valid_format_nodes"`
	InvalidFormatNodes int `json:"invalid_format_nodes"`
	UniqueNodes        int `json:"unique_nodes"`
	ProbedNodes        int `json:"probed_nodes"`
	AvailableNodes     int `json:"available_nodes"`

	State  RunState `json:"state"`
	Fatal  string   `json:"fatal,omitempty"`
	Errors []string `json:"errors"`
}
