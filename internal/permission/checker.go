package permission

import "fmt"

// Checker evaluates one tool call against the configured ToolPermissions.
// Grounded on internal/permission/checker.go's Check dispatch, trimmed of
// the interactive Ask/Respond channel (there is no notebook-UI actor for
// it to wait on here — see ActionAsk).
type Checker struct {
	permissions ToolPermissions
}

// NewChecker builds a Checker from a tool permission table. A nil table
// is treated as DefaultToolPermissions.
func NewChecker(permissions ToolPermissions) *Checker {
	if permissions == nil {
		permissions = DefaultToolPermissions()
	}
	return &Checker{permissions: permissions}
}

// Check evaluates req against the configured action for its Type.
func (c *Checker) Check(req Request) error {
	switch c.permissions.actionFor(req.Type) {
	case ActionAllow:
		return nil
	case ActionDeny:
		return &RejectedError{
			SessionID:  req.SessionID,
			Type:       req.Type,
			ToolCallID: req.ToolCallID,
			Message:    fmt.Sprintf("%s is disabled by runtime configuration", req.Type),
		}
	case ActionAsk:
		return &RejectedError{
			SessionID:  req.SessionID,
			Type:       req.Type,
			ToolCallID: req.ToolCallID,
			Message:    fmt.Sprintf("%s requires interactive approval, which this runtime cannot provide", req.Type),
		}
	default:
		return nil
	}
}
