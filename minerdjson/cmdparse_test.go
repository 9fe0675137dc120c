package minerdjson

import (
	"encoding/json"
	"testing"
)

// TestMarshalCmd ensures registered commands marshal to the expected
// positional-parameter request, with trailing nil optional params omitted.
func TestMarshalCmd(t *testing.T) {
	tests := []struct {
		name string
		cmd  interface{}
		want string
	}{
		{
			name: "mine with default slot",
			cmd:  NewMineCmd("0000abcd", nil),
			want: `{"jsonrpc":"1.0","method":"mine","params":["0000abcd"],"id":1}`,
		},
		{
			name: "validateproof with explicit slot",
			cmd:  NewValidateProofCmd("0000abcd", 42, Int(2)),
			want: `{"jsonrpc":"1.0","method":"validateproof","params":["0000abcd",42,2],"id":1}`,
		},
		{
			name: "readysignal",
			cmd:  NewReadySignalCmd(nil),
			want: `{"jsonrpc":"1.0","method":"readysignal","params":[],"id":1}`,
		},
	}

	for _, test := range tests {
		marshalled, err := MarshalCmd(RpcVersion1, 1, test.cmd)
		if err != nil {
			t.Errorf("%s: MarshalCmd error: %v", test.name, err)
			continue
		}
		if string(marshalled) != test.want {
			t.Errorf("%s: got %s, want %s", test.name, marshalled,
				test.want)
		}
	}
}

// TestUnmarshalCmd ensures requests unmarshal back into the typed command
// with defaults populated for omitted optional parameters.
func TestUnmarshalCmd(t *testing.T) {
	var request Request
	reqJSON := `{"jsonrpc":"1.0","method":"validateproof","params":["0000abcd",42],"id":1}`
	if err := json.Unmarshal([]byte(reqJSON), &request); err != nil {
		t.Fatalf("Unmarshal request: %v", err)
	}

	cmd, err := UnmarshalCmd(&request)
	if err != nil {
		t.Fatalf("UnmarshalCmd: %v", err)
	}
	vp, ok := cmd.(*ValidateProofCmd)
	if !ok {
		t.Fatalf("UnmarshalCmd returned %T, want *ValidateProofCmd", cmd)
	}
	if vp.Hash != "0000abcd" || vp.Proof != 42 {
		t.Fatalf("unexpected command values: %+v", vp)
	}
	if vp.Slot == nil || *vp.Slot != 0 {
		t.Fatalf("slot default was not populated: %+v", vp.Slot)
	}
}

// TestUnmarshalCmdErrors ensures the parser rejects unregistered methods and
// wrong parameter counts with the expected error codes.
func TestUnmarshalCmdErrors(t *testing.T) {
	tests := []struct {
		name    string
		request Request
		err     ErrorCode
	}{
		{
			name: "unregistered method",
			request: Request{
				Jsonrpc: RpcVersion1,
				Method:  "bogus",
			},
			err: ErrUnregisteredMethod,
		},
		{
			name: "too many params",
			request: Request{
				Jsonrpc: RpcVersion1,
				Method:  "mine",
				Params: []json.RawMessage{
					json.RawMessage(`"a"`),
					json.RawMessage(`0`),
					json.RawMessage(`0`),
				},
			},
			err: ErrNumParams,
		},
		{
			name: "wrong param type",
			request: Request{
				Jsonrpc: RpcVersion1,
				Method:  "mine",
				Params: []json.RawMessage{
					json.RawMessage(`7`),
				},
			},
			err: ErrInvalidType,
		},
	}

	for _, test := range tests {
		_, err := UnmarshalCmd(&test.request)
		jerr, ok := err.(Error)
		if !ok {
			t.Errorf("%s: expected a minerdjson.Error, got %T (%v)",
				test.name, err, err)
			continue
		}
		if jerr.ErrorCode != test.err {
			t.Errorf("%s: got error code %v, want %v", test.name,
				jerr.ErrorCode, test.err)
		}
	}
}
