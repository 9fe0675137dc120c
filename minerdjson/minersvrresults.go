package minerdjson

// MineResult models the data returned from the mine command.  The command
// replies as soon as the search has been started; the eventual proof must be
// retrieved separately with getmineresult or received as a mined websocket
// notification.
type MineResult struct {
	JobID uint64 `json:"jobid"`
	Hash  string `json:"hash"`
	Slot  int    `json:"slot"`
	State string `json:"state"`
}

// GetMineResultResult models the data returned from the getmineresult
// command.  Proof is only meaningful once Finished is true and Error is
// empty.
type GetMineResultResult struct {
	JobID    uint64 `json:"jobid"`
	Hash     string `json:"hash"`
	Slot     int    `json:"slot"`
	Finished bool   `json:"finished"`
	Proof    uint64 `json:"proof,omitempty"`
	Error    string `json:"error,omitempty"`
}

// MinerSlotInfo models the per-slot data of the getminerinfo command.
type MinerSlotInfo struct {
	Slot        int    `json:"slot"`
	State       string `json:"state"`
	CurrentJob  uint64 `json:"currentjob,omitempty"`
	StartedJobs uint64 `json:"startedjobs"`
	BusyRejects uint64 `json:"busyrejects"`
}

// GetMinerInfoResult models the data returned from the getminerinfo command.
type GetMinerInfoResult struct {
	Version    string          `json:"version"`
	Difficulty uint32          `json:"difficulty"`
	Slots      []MinerSlotInfo `json:"slots"`
}
