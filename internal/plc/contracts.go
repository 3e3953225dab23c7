package plc

import "context"

// TagBus reads and writes named integer tags on the line controller.
// Implementations own transport details; callers bound each call with ctx.
type TagBus interface {
	ReadTag(ctx context.Context, name string) (int, error)
	WriteTag(ctx context.Context, name string, value int) error
}
