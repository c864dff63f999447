package interpreter

import (
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// Effect is the side effect a node asks the engine to perform. The set of
// implementations is closed.
type Effect interface {
	Kind() models.NodeKind
	effect()
}

// Send delivers Content to the contact and continues to Next.
type Send struct {
	NodeID  string
	Content string
	Next    string
}

// Branch continues to Next, selected by the expression Result.
type Branch struct {
	NodeID string
	Result string
	Next   string
}

// Action invokes an external endpoint and merges the mapped response.
type Action struct {
	NodeID    string
	Endpoint  string
	Method    string
	Headers   map[string]string
	Request   map[string]any
	Mapping   map[string]string
	ResultKey string
	Timeout   time.Duration
	Retry     models.RetryPolicy
	Next      string
}

// AskAndWait sends Prompt and blocks until an inbound event or the timeout.
type AskAndWait struct {
	NodeID  string
	Prompt  string
	Timeout time.Duration
	SaveAs  string
}

// Delay blocks until Duration has elapsed.
type Delay struct {
	NodeID   string
	Duration time.Duration
}

// End terminates the execution.
type End struct {
	NodeID  string
	Outcome string
}

func (Send) Kind() models.NodeKind       { return models.NodeKindSend }
func (Branch) Kind() models.NodeKind     { return models.NodeKindBranch }
func (Action) Kind() models.NodeKind     { return models.NodeKindAction }
func (AskAndWait) Kind() models.NodeKind { return models.NodeKindAsk }
func (Delay) Kind() models.NodeKind      { return models.NodeKindDelay }
func (End) Kind() models.NodeKind        { return models.NodeKindEnd }

func (Send) effect()       {}
func (Branch) effect()     {}
func (Action) effect()     {}
func (AskAndWait) effect() {}
func (Delay) effect()      {}
func (End) effect()        {}
