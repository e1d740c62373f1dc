package protocol

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/template"
)

// WaitState is the suspension a contact is resuming from. It is nil on the first
// visit of a node.
type WaitState struct {
	ResumeAt      *time.Time
	Deadline      *time.Time
	AwaitingReply bool
	Reply         *string
}

// ExecutionContext is everything a node may read while running for one contact.
// It carries no ambient state; every capability is passed explicitly.
type ExecutionContext struct {
	ExecutionID string
	FlowID      string
	NodeID      string
	Step        int
	Contact     *models.Contact
	Variables   map[string]any
	// Outputs holds the outputs of nodes this contact already completed, keyed by node id.
	Outputs map[string]map[string]any
	Wait    *WaitState
	Now     time.Time

	Messenger Messenger
	Model     Model
	// Tools is only set for agent nodes.
	Tools  ToolInvoker
	Logger *slog.Logger
}

// Resuming reports whether the contact is revisiting a node it was waiting on.
func (c *ExecutionContext) Resuming() bool {
	return c.Wait != nil
}

// Reply returns the reply the contact sent while waiting, if any.
func (c *ExecutionContext) Reply() (string, bool) {
	if c.Wait == nil || c.Wait.Reply == nil {
		return "", false
	}

	return *c.Wait.Reply, true
}

// DeadlineExpired reports whether a reply wait ran past its deadline.
func (c *ExecutionContext) DeadlineExpired() bool {
	return c.Wait != nil && c.Wait.Deadline != nil && !c.Now.Before(*c.Wait.Deadline)
}

// DedupeKey names one external send of this node visit.
func (c *ExecutionContext) DedupeKey(part string) string {
	return fmt.Sprintf("%s:%s:%s:%d:%s", c.ExecutionID, c.Contact.ID, c.NodeID, c.Step, part)
}

// Render substitutes run data into text.
func (c *ExecutionContext) Render(text string) (string, error) {
	return template.Text(text, template.Data(c.ExecutionID, c.FlowID, c.Contact, c.Variables, c.Outputs))
}
