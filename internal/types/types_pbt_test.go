package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genStatus() gopter.Gen {
	return gen.OneConstOf(StatusWaiting, StatusActive, StatusDelayed, StatusCompleted, StatusFailed)
}

// Terminal statuses map onto terminal orchestrator states and nothing else does
func TestTerminalStatusProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("terminal iff succeeded or failed_permanent", prop.ForAll(
		func(s JobStatus) bool {
			state := StateForStatus(s)
			terminalState := state == StateSucceeded || state == StateFailedPermanent
			return s.Terminal() == terminalState
		},
		genStatus(),
	))

	properties.Property("every known status parses back to itself", prop.ForAll(
		func(s JobStatus) bool {
			parsed, ok := ParseJobStatus(string(s))
			return ok && parsed == s
		},
		genStatus(),
	))

	properties.TestingRun(t)
}
