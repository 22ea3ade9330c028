package ir

import (
	"fmt"
	"strings"
)

// AutocastState is the statically resolved autocast state at a program point.
type AutocastState uint8

const (
	StateOff AutocastState = iota
	StateOn
	StateUnresolved
)

func (s AutocastState) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateOn:
		return "on"
	case StateUnresolved:
		return "unresolved"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Context is the autocast annotation attached to a node: the state of the
// innermost enclosing region, the handle identities that opened it (empty
// for an inline flag) and the region nesting depth. Depth 0 is top level,
// where autocast is off.
type Context struct {
	State   AutocastState
	Handles []HandleID
	Depth   int
	Reason  string // why State is unresolved
}

// Enabled reports whether casting policies apply.
func (c *Context) Enabled() bool {
	return c != nil && c.State == StateOn
}

func (c *Context) String() string {
	if c == nil {
		return "none"
	}
	var sb strings.Builder
	sb.WriteString(c.State.String())
	if len(c.Handles) > 0 {
		ids := make([]string, len(c.Handles))
		for i, h := range c.Handles {
			ids[i] = fmt.Sprintf("h%d", h)
		}
		sb.WriteString("@" + strings.Join(ids, ","))
	}
	if c.Depth > 0 {
		fmt.Fprintf(&sb, "/%d", c.Depth)
	}
	return sb.String()
}
