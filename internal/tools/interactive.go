// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"

	"github.com/jeranaias/parley/internal/chat"
)

// ErrSurfaceCancelled is returned when the user dismissed an interactive
// surface before it resolved.
var ErrSurfaceCancelled = errors.New("interactive surface cancelled")

// RunSurface mounts an interactive surface on the bus and suspends on its
// completion channel. The surface delivers exactly one outcome; turn
// cancellation arrives through ctx.
func RunSurface(ctx context.Context, bus chat.Interactions, kind string, args map[string]any) (chat.SurfaceOutcome, error) {
	ch := bus.MountSurface(kind, args)
	select {
	case outcome := <-ch:
		if outcome.Cancelled {
			return outcome, ErrSurfaceCancelled
		}
		return outcome, nil
	case <-ctx.Done():
		return chat.SurfaceOutcome{Cancelled: true}, ctx.Err()
	}
}
