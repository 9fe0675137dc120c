package main

import (
	"testing"

	"github.com/btcsuite/btclog"

	"github.com/MonteCarloClub/minerd/log"
)

// TestParseAndSetDebugLevels ensures both the single level form and the
// subsystem=level list form of the debuglevel option are parsed and applied
// correctly and that malformed specifications are rejected.
func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		name       string
		debugLevel string
		wantErr    bool
		wantLevels map[string]btclog.Level
	}{
		{
			name:       "single level all subsystems",
			debugLevel: "debug",
			wantLevels: map[string]btclog.Level{
				"MNRD": btclog.LevelDebug,
				"MINR": btclog.LevelDebug,
				"RPCS": btclog.LevelDebug,
			},
		},
		{
			name:       "single subsystem override",
			debugLevel: "MINR=trace",
			wantLevels: map[string]btclog.Level{
				"MINR": btclog.LevelTrace,
				"RPCS": btclog.LevelInfo,
			},
		},
		{
			name:       "multiple subsystem overrides",
			debugLevel: "MINR=debug,RPCS=trace",
			wantLevels: map[string]btclog.Level{
				"MINR": btclog.LevelDebug,
				"RPCS": btclog.LevelTrace,
			},
		},
		{
			name:       "invalid level",
			debugLevel: "bogus",
			wantErr:    true,
		},
		{
			name:       "invalid subsystem",
			debugLevel: "XXXX=debug",
			wantErr:    true,
		},
		{
			name:       "invalid level in pair",
			debugLevel: "MINR=bogus",
			wantErr:    true,
		},
		{
			name:       "pair without level",
			debugLevel: "MINR=debug,RPCS",
			wantErr:    true,
		},
	}

	defer log.SetLogLevels(defaultLogLevel)

	for _, test := range tests {
		// Reset all subsystems before each case so the expected levels
		// are unambiguous.
		log.SetLogLevels(defaultLogLevel)

		err := parseAndSetDebugLevels(test.debugLevel)
		if (err != nil) != test.wantErr {
			t.Errorf("%s: unexpected error -- got %v, wantErr %v",
				test.name, err, test.wantErr)
			continue
		}

		for subsysID, wantLevel := range test.wantLevels {
			level := log.SubsystemLoggers[subsysID].Level()
			if level != wantLevel {
				t.Errorf("%s: subsystem %s level is %v, want %v",
					test.name, subsysID, level, wantLevel)
			}
		}
	}
}
