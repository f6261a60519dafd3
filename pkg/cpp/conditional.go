// conditional.go implements conditional compilation (#if, #ifdef, etc.)
package cpp

import (
	"errors"
	"fmt"
)

// CondState is the state of one conditional frame.
type CondState int

const (
	CondActive CondState = iota
	CondAwaitingMatch
	CondAlreadyMatched
)

func (s CondState) String() string {
	switch s {
	case CondActive:
		return "Active"
	case CondAwaitingMatch:
		return "InactiveAwaitingMatch"
	case CondAlreadyMatched:
		return "InactiveAlreadyMatched"
	default:
		return "Unknown"
	}
}

// CondFrame tracks one open #if/#ifdef/#ifndef until its #endif.
type CondFrame struct {
	State         CondState
	Matched       bool // some branch of this frame has been taken
	SeenElse      bool
	ParentVisible bool // visibility of everything below this frame
	Loc           SourceLoc
}

var (
	errElifWithoutIf  = errors.New("#elif without #if")
	errElifAfterElse  = errors.New("#elif after #else")
	errElseWithoutIf  = errors.New("#else without #if")
	errDuplicateElse  = errors.New("#else after #else")
	errEndifWithoutIf = errors.New("#endif without #if")
)

// ConditionalStack holds the open conditional frames of one file.
type ConditionalStack struct {
	stack []CondFrame
}

// NewConditionalStack creates an empty conditional stack.
func NewConditionalStack() *ConditionalStack {
	return &ConditionalStack{}
}

// Visible reports whether tokens at the current position are emitted.
func (cs *ConditionalStack) Visible() bool {
	if len(cs.stack) == 0 {
		return true
	}
	top := cs.stack[len(cs.stack)-1]
	return top.ParentVisible && top.State == CondActive
}

// PushIf opens a frame for #if, #ifdef or #ifndef. eval is called only when
// the enclosing region is visible.
func (cs *ConditionalStack) PushIf(loc SourceLoc, eval func() bool) {
	visible := cs.Visible()
	frame := CondFrame{ParentVisible: visible, Loc: loc}
	switch {
	case !visible:
		frame.State = CondAlreadyMatched
		frame.Matched = true
	case eval():
		frame.State = CondActive
		frame.Matched = true
	default:
		frame.State = CondAwaitingMatch
	}
	cs.stack = append(cs.stack, frame)
}

// Elif handles #elif. eval is called only when no earlier branch of the
// frame matched and the enclosing region is visible.
func (cs *ConditionalStack) Elif(eval func() bool) error {
	if len(cs.stack) == 0 {
		return errElifWithoutIf
	}
	frame := &cs.stack[len(cs.stack)-1]
	if frame.SeenElse {
		frame.State = CondAlreadyMatched
		return errElifAfterElse
	}

	switch {
	case frame.Matched:
		frame.State = CondAlreadyMatched
	case !frame.ParentVisible:
		frame.State = CondAwaitingMatch
	case eval():
		frame.State = CondActive
		frame.Matched = true
	default:
		frame.State = CondAwaitingMatch
	}
	return nil
}

// Else handles #else.
func (cs *ConditionalStack) Else() error {
	if len(cs.stack) == 0 {
		return errElseWithoutIf
	}
	frame := &cs.stack[len(cs.stack)-1]
	if frame.SeenElse {
		frame.State = CondAlreadyMatched
		return errDuplicateElse
	}
	frame.SeenElse = true

	if !frame.Matched && frame.ParentVisible {
		frame.State = CondActive
		frame.Matched = true
	} else {
		frame.State = CondAlreadyMatched
	}
	return nil
}

// Endif handles #endif.
func (cs *ConditionalStack) Endif() error {
	if len(cs.stack) == 0 {
		return errEndifWithoutIf
	}
	cs.stack = cs.stack[:len(cs.stack)-1]
	return nil
}

// Depth returns the nesting depth of conditionals.
func (cs *ConditionalStack) Depth() int {
	return len(cs.stack)
}

// Top returns the innermost frame, if any.
func (cs *ConditionalStack) Top() (CondFrame, bool) {
	if len(cs.stack) == 0 {
		return CondFrame{}, false
	}
	return cs.stack[len(cs.stack)-1], true
}

// CheckBalanced returns an error if there are unclosed conditionals.
func (cs *ConditionalStack) CheckBalanced() error {
	if len(cs.stack) > 0 {
		return fmt.Errorf("unterminated conditional directive, %d level(s) unclosed, innermost opened at %s",
			len(cs.stack), cs.stack[len(cs.stack)-1].Loc)
	}
	return nil
}
