package flowgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph     = errors.New("invalid flow graph")
	ErrNoEdgeForOutcome = errors.New("no edge for outcome")
)

// Violation is one structural problem found in a flow.
type Violation struct {
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.NodeID == "" {
		return v.Message
	}

	return fmt.Sprintf("node '%s': %s", v.NodeID, v.Message)
}

// InvalidGraphError lists every violation found, not only the first.
type InvalidGraphError struct {
	FlowID     string
	Violations []Violation
}

func (e *InvalidGraphError) Error() string {
	messages := make([]string, 0, len(e.Violations))
	for _, violation := range e.Violations {
		messages = append(messages, violation.String())
	}

	return fmt.Sprintf("invalid flow graph '%s': %s", e.FlowID, strings.Join(messages, "; "))
}

func (e *InvalidGraphError) Is(target error) bool {
	return target == ErrInvalidGraph
}

// IsInvalidGraph reports whether err is a flow validation failure.
func IsInvalidGraph(err error) bool {
	return errors.Is(err, ErrInvalidGraph)
}

// AsInvalidGraph extracts the violation list from err.
func AsInvalidGraph(err error) (*InvalidGraphError, bool) {
	var graphErr *InvalidGraphError
	if errors.As(err, &graphErr) {
		return graphErr, true
	}

	return nil, false
}
