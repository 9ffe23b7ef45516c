package query

import "github.com/ridgecache/ridge/ridgetype"

// PlanKind selects which of the three execution strategies the planner
// produced.
type PlanKind int

const (
	PlanSeqScan PlanKind = iota
	PlanIndexScan
	PlanIndexScans
)

// IndexScanPlan is one secondary index's contribution to a Plan: the
// equality prefix and optional trailing range bound for a
// SortedInverted index, or the token set and Contains/MatchesAny/
// MatchesAll combinator for a FullText index.
type IndexScanPlan struct {
	IndexPos int
	Def      ridgetype.IndexDefinition

	// SortedInverted
	EqValues []ridgetype.Field
	HasRange bool

	HasLower bool
	Lower    ridgetype.Field
	HasUpper bool
	Upper    ridgetype.Field

	LowerStrict bool // Lower bound is Gt rather than Gte
	UpperStrict bool // Upper bound is Lt rather than Lte

	Direction Direction

	// FullText
	Tokens    []string
	RequireOp Operator // Contains, MatchesAny or MatchesAll
}

// Plan is the compiled execution strategy for one Expression.
type Plan struct {
	Kind PlanKind

	// SeqScan
	SeqDirection Direction

	// IndexScan / IndexScans
	Scans []IndexScanPlan

	// Residual holds clauses no chosen index scan could satisfy;
	// the executor evaluates these against each dereferenced record.
	Residual []clause

	// NeedsPostSort is true when IndexScans results must be sorted in
	// memory to satisfy OrderBy (a single IndexScan is only emitted
	// when it already yields the requested order natively).
	NeedsPostSort bool
	OrderBy       []OrderTerm

	// Pagination, carried straight through from the compiled Expression.
	Skip  Skip
	Limit *int
}
