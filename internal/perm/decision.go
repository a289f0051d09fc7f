// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package perm

import "fmt"

// CheckRequest names one (resource, permission) pair to resolve for a user.
type CheckRequest struct {
	Resource   ResourceRef
	Permission Permission
}

// Decision is the outcome of resolving a check. The allowed flag is
// unexported so a Decision can only be built through the constructors,
// keeping the fields/allowed invariant intact: a denying decision never
// carries a field set.
type Decision struct {
	allowed bool
	Fields  FieldSet // nil = unrestricted; only meaningful when allowed
	Reason  string
}

// AllowAll builds an unrestricted allowing decision.
func AllowAll(reason string) Decision {
	return Decision{allowed: true, Reason: reason}
}

// AllowFields builds an allowing decision restricted to the given fields.
// A nil field set degrades to an unrestricted allow.
func AllowFields(fields FieldSet, reason string) Decision {
	return Decision{allowed: true, Fields: fields, Reason: reason}
}

// Denied builds a denying decision.
func Denied(reason string) Decision {
	return Decision{allowed: false, Reason: reason}
}

// Allowed reports whether the decision grants access.
func (d Decision) Allowed() bool {
	return d.allowed
}

// Validate checks the decision invariant: a deny never carries fields.
// Called at engine return boundaries.
func (d Decision) Validate() error {
	if !d.allowed && d.Fields != nil {
		return fmt.Errorf("decision invariant violated: denied but fields=%v", d.Fields.Names())
	}
	return nil
}

func (d Decision) String() string {
	verdict := "deny"
	if d.allowed {
		verdict = "allow"
	}
	if d.Fields != nil {
		return fmt.Sprintf("%s(fields=%v)", verdict, d.Fields.Names())
	}
	return verdict
}
