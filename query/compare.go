package query

import (
	"bytes"

	"github.com/ridgecache/ridge/encoding"
	"github.com/ridgecache/ridge/ridgetype"
)

// compareFields orders two same-typed fields the way the secondary
// index's multimap keys are ordered: by their order-preserving binary
// encoding, so a residual predicate or a post-sort comparator agrees
// with whatever a SortedInverted scan would have returned.
func compareFields(a, b ridgetype.Field) (int, error) {
	ab, err := encoding.EncodeField(a)
	if err != nil {
		return 0, err
	}
	bb, err := encoding.EncodeField(b)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(ab, bb), nil
}
