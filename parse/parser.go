// Package parse turns fetched raw content into flat items, one batch at
// a time so a parse position survives process restarts.
package parse

import (
	"context"
	"strconv"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/fetch"
)

// Parser extracts the next batch of items from fetched content.
//
// The parser owns state.Pointer: it reads its resume position from it,
// advances it past the items returned, and marks the state complete
// when no records remain. Callers persist the state between batches.
// A feed with no records at all returns errors.ErrEmptyFeed.
type Parser interface {
	Parse(ctx context.Context, source *feed.Source, result *fetch.Result, state *feed.StageState) ([]*feed.Item, error)
}

// resumeOffset decodes the record offset stored in a stage pointer.
// A blank pointer means start from the first record.
func resumeOffset(state *feed.StageState) (int, error) {
	if state.Pointer == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(state.Pointer)
	if err != nil || offset < 0 {
		return 0, errors.Newf("corrupt parse pointer %q", state.Pointer)
	}
	return offset, nil
}

// advance records that records [offset, offset+consumed) were emitted,
// updating pointer, total and progress. It marks the state complete
// when the offset reaches total.
func advance(state *feed.StageState, offset, consumed, total int) {
	next := offset + consumed
	state.Pointer = strconv.Itoa(next)
	state.Total = total
	state.SetProgress(next, total)
	if next >= total {
		state.Complete()
	}
}
