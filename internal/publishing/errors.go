/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package publishing

import "errors"

// Errors surfaced synchronously to callers of the scheduling service.
var (
	// ErrInvalidPolicy means the policy is inactive or malformed.
	ErrInvalidPolicy = errors.New("invalid policy")
	// ErrInvalidState means the entry or article is not in a valid source state.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidTime means a requested target time is not in the future.
	ErrInvalidTime = errors.New("invalid time")
	// ErrNotFound means the referenced policy, entry or article does not exist.
	ErrNotFound = errors.New("not found")
)
