package script

import (
	"context"
	"time"
)

// Mode distinguishes single evaluations from long-running scripts.
type Mode string

const (
	ModeOneShot    Mode = "oneshot"
	ModeContinuous Mode = "continuous"
)

// State of a registered execution.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Reason records which termination path closed a channel.
type Reason string

const (
	ReasonCompleted    Reason = "completed"
	ReasonStopped      Reason = "stopped"
	ReasonDisconnected Reason = "disconnected"
	ReasonPageLost     Reason = "page_lost"
	ReasonShutdown     Reason = "shutdown"
	ReasonSetupFailed  Reason = "setup_failed"
)

// Event is one item emitted by a continuous script.
type Event struct {
	Data     any    `json:"data"`
	ScriptID string `json:"scriptId"`
}

// BindingFunc receives the arguments of an in-page bridge call.
type BindingFunc func(args ...any)

// Page is the slice of the page-control collaborator the orchestrator needs.
//
// Evaluate runs a JavaScript function expression in the page with arg as its
// single argument and returns the JSON-compatible result; it fails when the
// page throws or is gone. ExposeBinding installs a global function that
// forwards its arguments to fn; it fails when name is already bound.
type Page interface {
	Evaluate(ctx context.Context, expression string, arg any) (any, error)
	ExposeBinding(ctx context.Context, name string, fn BindingFunc) error
}

// Info describes a registered execution.
type Info struct {
	ID        string    `json:"id"`
	Mode      Mode      `json:"mode"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Events    int64     `json:"events"`
}

// Stats summarizes the orchestrator for health reporting.
type Stats struct {
	Active      int   `json:"active"`
	Started     int64 `json:"started"`
	OneShots    int64 `json:"oneshots"`
	Interceptor bool  `json:"interceptor_installed"`
}
