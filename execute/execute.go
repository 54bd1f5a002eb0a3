// CLAUDE:SUMMARY Compiles actions into closed Mutation variants (remove/replace/insert/alter) and applies them with panic isolation.
// Package execute turns a rule.Action into a Mutation and applies it to a
// dom.Document. Unknown action types are rejected at compile time; a failing
// or panicking mutation surfaces as an error, never as a crash.
package execute

import (
	"fmt"

	"github.com/hazyhaar/visionbridge/dom"
	"github.com/hazyhaar/visionbridge/rule"
)

// Mutation is one compiled action.
type Mutation interface {
	Kind() rule.Kind
	Apply(doc dom.Document) (int, error)
}

// Remove deletes every element matching Selector.
type Remove struct {
	Selector string
}

func (Remove) Kind() rule.Kind { return rule.KindRemove }

func (m Remove) Apply(doc dom.Document) (int, error) {
	return doc.RemoveAll(m.Selector)
}

// Replace swaps every element matching Selector for a copy of Fragment's
// first element.
type Replace struct {
	Selector string
	Fragment string
}

func (Replace) Kind() rule.Kind { return rule.KindReplace }

func (m Replace) Apply(doc dom.Document) (int, error) {
	return doc.ReplaceAll(m.Selector, m.Fragment)
}

// Insert places a copy of Fragment's first element relative to every
// element matching Target.
type Insert struct {
	Target   string
	Fragment string
	Position rule.Position
}

func (Insert) Kind() rule.Kind { return rule.KindInsert }

func (m Insert) Apply(doc dom.Document) (int, error) {
	return doc.InsertAll(m.Target, m.Fragment, m.Position.Normalize())
}

// Alter substitutes Old with New across the body's text.
type Alter struct {
	Old string
	New string
}

func (Alter) Kind() rule.Kind { return rule.KindAlter }

func (m Alter) Apply(doc dom.Document) (int, error) {
	return doc.SubstituteText(m.Old, m.New)
}

// UnknownKindError is returned by Compile for an action type outside the
// supported set.
type UnknownKindError struct {
	Kind rule.Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("execute: unknown action type %q", string(e.Kind))
}

// PanicError wraps a value recovered while applying a mutation.
type PanicError struct {
	Kind  rule.Kind
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("execute: %s panicked: %v", e.Kind, e.Value)
}

// Compile maps an action onto its Mutation variant.
func Compile(a rule.Action) (Mutation, error) {
	switch a.Type {
	case rule.KindRemove:
		return Remove{Selector: a.Selector}, nil
	case rule.KindReplace:
		return Replace{Selector: a.Selector, Fragment: a.NewElement}, nil
	case rule.KindInsert:
		return Insert{Target: a.Target, Fragment: a.Element, Position: a.Position}, nil
	case rule.KindAlter:
		return Alter{Old: a.OldValue, New: a.NewValue}, nil
	default:
		return nil, &UnknownKindError{Kind: a.Type}
	}
}

// Apply runs m against doc. Errors are wrapped with the mutation kind; a
// panic is recovered into a *PanicError.
func Apply(doc dom.Document, m Mutation) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, &PanicError{Kind: m.Kind(), Value: r}
		}
	}()
	n, err = m.Apply(doc)
	if err != nil {
		return n, fmt.Errorf("execute: %s: %w", m.Kind(), err)
	}
	return n, nil
}
