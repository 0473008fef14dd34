package script

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyScript is returned for blank script text.
	ErrEmptyScript = errors.New("script is empty")

	// ErrTooManyScripts is returned when the active limit is reached.
	ErrTooManyScripts = errors.New("too many active scripts")

	// ErrDuplicateID is returned when registering an identity that is live.
	ErrDuplicateID = errors.New("script id already registered")

	// ErrBindingExists is returned by pages when a bridge name is taken.
	ErrBindingExists = errors.New("binding already exists")

	// ErrPageClosed is returned by pages that have been torn down.
	ErrPageClosed = errors.New("page is closed")
)

// Setup stages of a continuous execution.
const (
	StageInstall  = "install"
	StageBridge   = "bridge"
	StageLaunch   = "launch"
	StageRegister = "register"
)

// SetupError reports a continuous execution that failed before it was
// registered. No registry entry exists for ScriptID.
type SetupError struct {
	ScriptID string
	Stage    string
	Err      error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("script %s setup failed at %s: %v", e.ScriptID, e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// EvaluationError carries a page-side exception message.
type EvaluationError struct {
	Message string
}

func (e *EvaluationError) Error() string {
	return "evaluation failed: " + e.Message
}
