// internal/firmware/state.go
package firmware

import "fmt"

// State is the phase of one update run
type State int

const (
	NotStarted State = iota
	EnteringDFUMode
	InDFUMode
	DFUCompleted
	DisablingRuntimeForRuntime
	UpdatingRuntime
	DisablingRuntimeForCoprocessor
	UpdatingCoprocessor
	AllWritesComplete
	VerifySuccess
	UpdateSuccess
	Error
)

var stateNames = [...]string{
	NotStarted:                     "NotStarted",
	EnteringDFUMode:                "EnteringDFUMode",
	InDFUMode:                      "InDFUMode",
	DFUCompleted:                   "DFUCompleted",
	DisablingRuntimeForRuntime:     "DisablingRuntimeForRuntime",
	UpdatingRuntime:                "UpdatingRuntime",
	DisablingRuntimeForCoprocessor: "DisablingRuntimeForCoprocessor",
	UpdatingCoprocessor:            "UpdatingCoprocessor",
	AllWritesComplete:              "AllWritesComplete",
	VerifySuccess:                  "VerifySuccess",
	UpdateSuccess:                  "UpdateSuccess",
	Error:                          "Error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsTerminal reports whether the run has ended
func (s State) IsTerminal() bool {
	return s == UpdateSuccess || s == Error
}
