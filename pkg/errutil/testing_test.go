// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/gridward/gridward/pkg/errutil"
)

func TestAssertErrorCode(t *testing.T) {
	err := oops.Code("FORBIDDEN").Errorf("nope")
	errutil.AssertErrorCode(t, err, "FORBIDDEN")
}

func TestAssertErrorContext(t *testing.T) {
	err := oops.Code("FORBIDDEN").With("resource", "site:factory1").Errorf("nope")
	errutil.AssertErrorContext(t, err, "resource", "site:factory1")
}
