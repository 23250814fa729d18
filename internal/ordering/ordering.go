// Package ordering assigns sibling positions to boards within a project and
// tasks within a board.
package ordering

import "context"

// MaxFunc reports the largest order among existing siblings and whether any
// sibling exists.
type MaxFunc func(ctx context.Context) (max int, found bool, err error)

// Next is the position after the current maximum, or 1 for the first sibling.
func Next(max int, found bool) int {
	if !found {
		return 1
	}
	return max + 1
}

// Assign keeps an explicit positive order and otherwise appends after the
// current siblings.
func Assign(ctx context.Context, requested int, siblings MaxFunc) (int, error) {
	if requested > 0 {
		return requested, nil
	}
	max, found, err := siblings(ctx)
	if err != nil {
		return 0, err
	}
	return Next(max, found), nil
}
