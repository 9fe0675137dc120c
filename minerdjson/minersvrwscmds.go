// NOTE: This file is intended to house the RPC commands that are supported by
// a miner server, but are only available via websockets.

package minerdjson

// NotifyMinedCmd defines the notifymined JSON-RPC command.
type NotifyMinedCmd struct{}

// NewNotifyMinedCmd returns a new instance which can be used to issue a
// notifymined JSON-RPC command.
func NewNotifyMinedCmd() *NotifyMinedCmd {
	return &NotifyMinedCmd{}
}

// StopNotifyMinedCmd defines the stopnotifymined JSON-RPC command.
type StopNotifyMinedCmd struct{}

// NewStopNotifyMinedCmd returns a new instance which can be used to issue a
// stopnotifymined JSON-RPC command.
func NewStopNotifyMinedCmd() *StopNotifyMinedCmd {
	return &StopNotifyMinedCmd{}
}

func init() {
	// The commands in this file are only usable by websockets.
	flags := UFWebsocketOnly

	MustRegisterCmd("notifymined", (*NotifyMinedCmd)(nil), flags)
	MustRegisterCmd("stopnotifymined", (*StopNotifyMinedCmd)(nil), flags)
}
