// NOTE: This file is intended to house the RPC websocket notifications that
// are supported by a miner server.

package minerdjson

// MinedNtfnMethod is the method used for notifications about a resolved
// mining job.
const MinedNtfnMethod = "mined"

// MinedNtfn defines the mined JSON-RPC notification.  Error is empty when the
// search succeeded and carries the failure description otherwise, in which
// case Proof is meaningless.
type MinedNtfn struct {
	JobID uint64
	Hash  string
	Proof uint64
	Slot  int
	Error string
}

// NewMinedNtfn returns a new instance which can be used to issue a mined
// JSON-RPC notification.
func NewMinedNtfn(jobID uint64, hash string, proof uint64, slot int, errStr string) *MinedNtfn {
	return &MinedNtfn{
		JobID: jobID,
		Hash:  hash,
		Proof: proof,
		Slot:  slot,
		Error: errStr,
	}
}

func init() {
	// The commands in this file are only usable by websockets and are
	// notifications.
	flags := UFWebsocketOnly | UFNotification

	MustRegisterCmd(MinedNtfnMethod, (*MinedNtfn)(nil), flags)
}
