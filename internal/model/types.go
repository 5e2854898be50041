package model

import "time"

// CommandKind names one of the fixed operations the bridge accepts.
type CommandKind string

const (
	CommandInitConsole  CommandKind = "init-console"
	CommandInitMapset   CommandKind = "init-mapset"
	CommandDisplayLayer CommandKind = "display-layer"
	CommandSetScale     CommandKind = "set-scale"
	CommandRunModule    CommandKind = "run-module"
	CommandSnapshot     CommandKind = "snapshot"
	CommandQuit         CommandKind = "quit"
)

// Result is the value carried through the Result Cell from the executor
// goroutine back to the waiting caller. Ownership transfers to the reader
// when the completion signal fires; a timed-out caller never reads it.
type Result struct {
	OK     bool
	Code   int
	Stdout string
	Stderr string
	// Detail carries a failure description when the scheduled task itself
	// blew up (panic) rather than the workstation reporting a clean failure.
	Detail string
	// Payload holds operation-specific data, e.g. the /dump snapshot.
	Payload any
}

// Result codes recorded in the command history.
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultTimeout  = "timeout"
	ResultRejected = "rejected"
)

// CommandRecord is one processed command in the audit log.
type CommandRecord struct {
	CommandID   string
	Kind        CommandKind
	ParamsJSON  string
	ResultCode  string
	ExitCode    *int
	RequestedAt time.Time
	CompletedAt *time.Time
	DurationMS  int64
}

// Error codes defined by the API contract.
const (
	ErrRequestInvalid = "E_REQUEST_INVALID"
	ErrNotReady       = "E_UI_NOT_READY"
	ErrCommandTimeout = "E_COMMAND_TIMEOUT"
	ErrModuleFailed   = "E_MODULE_FAILED"
	ErrPrecondition   = "E_PRECONDITION_FAILED"
)
