// NOTE: This file is intended to house the RPC commands that are supported by
// a miner server.

package minerdjson

// ValidateProofCmd defines the validateproof JSON-RPC command.
type ValidateProofCmd struct {
	Hash  string
	Proof uint64
	Slot  *int `jsonrpcdefault:"0"`
}

// NewValidateProofCmd returns a new instance which can be used to issue a
// validateproof JSON-RPC command.
//
// The parameters which are pointers indicate they are optional.  Passing nil
// for optional parameters will use the default value.
func NewValidateProofCmd(hash string, proof uint64, slot *int) *ValidateProofCmd {
	return &ValidateProofCmd{
		Hash:  hash,
		Proof: proof,
		Slot:  slot,
	}
}

// MineCmd defines the mine JSON-RPC command.
type MineCmd struct {
	Hash string
	Slot *int `jsonrpcdefault:"0"`
}

// NewMineCmd returns a new instance which can be used to issue a mine
// JSON-RPC command.
func NewMineCmd(hash string, slot *int) *MineCmd {
	return &MineCmd{
		Hash: hash,
		Slot: slot,
	}
}

// GetMineResultCmd defines the getmineresult JSON-RPC command.
type GetMineResultCmd struct {
	JobID uint64
}

// NewGetMineResultCmd returns a new instance which can be used to issue a
// getmineresult JSON-RPC command.
func NewGetMineResultCmd(jobID uint64) *GetMineResultCmd {
	return &GetMineResultCmd{
		JobID: jobID,
	}
}

// ReadySignalCmd defines the readysignal JSON-RPC command.
type ReadySignalCmd struct {
	Slot *int `jsonrpcdefault:"0"`
}

// NewReadySignalCmd returns a new instance which can be used to issue a
// readysignal JSON-RPC command.
func NewReadySignalCmd(slot *int) *ReadySignalCmd {
	return &ReadySignalCmd{
		Slot: slot,
	}
}

// GetMinerInfoCmd defines the getminerinfo JSON-RPC command.
type GetMinerInfoCmd struct{}

// NewGetMinerInfoCmd returns a new instance which can be used to issue a
// getminerinfo JSON-RPC command.
func NewGetMinerInfoCmd() *GetMinerInfoCmd {
	return &GetMinerInfoCmd{}
}

// UptimeCmd defines the uptime JSON-RPC command.
type UptimeCmd struct{}

// NewUptimeCmd returns a new instance which can be used to issue an uptime
// JSON-RPC command.
func NewUptimeCmd() *UptimeCmd {
	return &UptimeCmd{}
}

// StopCmd defines the stop JSON-RPC command.
type StopCmd struct{}

// NewStopCmd returns a new instance which can be used to issue a stop
// JSON-RPC command.
func NewStopCmd() *StopCmd {
	return &StopCmd{}
}

// HelpCmd defines the help JSON-RPC command.
type HelpCmd struct {
	Command *string
}

// NewHelpCmd returns a new instance which can be used to issue a help
// JSON-RPC command.
func NewHelpCmd(command *string) *HelpCmd {
	return &HelpCmd{
		Command: command,
	}
}

func init() {
	// No special flags for commands in this file.
	flags := UsageFlag(0)

	MustRegisterCmd("validateproof", (*ValidateProofCmd)(nil), flags)
	MustRegisterCmd("mine", (*MineCmd)(nil), flags)
	MustRegisterCmd("getmineresult", (*GetMineResultCmd)(nil), flags)
	MustRegisterCmd("readysignal", (*ReadySignalCmd)(nil), flags)
	MustRegisterCmd("getminerinfo", (*GetMinerInfoCmd)(nil), flags)
	MustRegisterCmd("uptime", (*UptimeCmd)(nil), flags)
	MustRegisterCmd("stop", (*StopCmd)(nil), flags)
	MustRegisterCmd("help", (*HelpCmd)(nil), flags)
}
