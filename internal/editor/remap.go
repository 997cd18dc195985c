package editor

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// remapOffset moves a byte offset in before to the equivalent location in
// after, so a cursor stays on the same text across an external change.
func remapOffset(before, after string, offset int) int {
	if offset <= 0 {
		return 0
	}
	if offset > len(before) {
		offset = len(before)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	mapped := dmp.DiffXIndex(diffs, offset)
	if mapped > len(after) {
		return len(after)
	}
	return mapped
}
