package flow

import "fmt"

// Stage is a step of a flow. Flows move through the stages in order.
type Stage int

const (
	Generating Stage = iota
	Verifying
	Signing
	Gathering
	Finalising
	Done
)

var stages = [...]struct{ name, msg string }{
	Generating: {"generating", "Generating transaction."},
	Verifying:  {"verifying", "Verifying contract constraints."},
	Signing:    {"signing", "Signing transaction with our private key."},
	Gathering:  {"gathering", "Gathering the counterparties' signatures."},
	Finalising: {"finalising", "Obtaining notary signature and recording transaction."},
	Done:       {"done", "Done."},
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stages) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stages[s].name
}

// Message is the progress text shown for s.
func (s Stage) Message() string {
	if s < 0 || int(s) >= len(stages) {
		return ""
	}
	return stages[s].msg
}
