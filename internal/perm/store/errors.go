// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package store

import (
	"github.com/gridward/gridward/pkg/errutil"
)

// IsNotFound returns true if the error is a GRANT_NOT_FOUND error from the
// grant store.
func IsNotFound(err error) bool {
	return errutil.HasCode(err, "GRANT_NOT_FOUND")
}

// IsConflict returns true if the error is a GRANT_CONFLICT error: the
// (grantee, resource, permission) tuple already holds a grant. Callers
// decide whether to treat it as idempotent success or surface it.
func IsConflict(err error) bool {
	return errutil.HasCode(err, "GRANT_CONFLICT")
}
