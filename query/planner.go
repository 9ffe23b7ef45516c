package query

import (
	"fmt"

	"github.com/ridgecache/ridge/ridgetype"
)

// SupportsOperator reports whether def's index kind can serve op:
// Contains/MatchesAll/MatchesAny require a FullText index; every other
// comparison operator requires SortedInverted. Implemented here, not as
// a ridgetype.IndexDefinition method, to keep ridgetype free of a
// dependency on this package's Operator type.
func SupportsOperator(def ridgetype.IndexDefinition, op Operator) bool {
	switch def.(type) {
	case ridgetype.SortedInvertedIndex:
		return !op.IsFullText()
	case ridgetype.FullTextIndex:
		return op.IsFullText()
	default:
		return false
	}
}

// clause is one flattened, field-resolved, value-coerced Simple term.
type clause struct {
	FieldPos  int
	FieldName string
	Op        Operator
	Value     ridgetype.Field
	Tokens    []string
}

// Planner compiles Expressions against one schema into a Plan.
type Planner struct {
	Schema ridgetype.Schema
}

// NewPlanner constructs a Planner bound to schema.
func NewPlanner(schema ridgetype.Schema) *Planner {
	return &Planner{Schema: schema}
}

// Plan compiles expr into an execution Plan.
func (p *Planner) Plan(expr Expression) (*Plan, error) {
	var clauses []clause
	if expr.Filter != nil {
		if err := p.collectClauses(expr.Filter, &clauses); err != nil {
			return nil, err
		}
	}

	// fail fast: every fulltext clause needs a FullText index on its
	// field before any other planning work happens.
	for _, c := range clauses {
		if c.Op.IsFullText() {
			if !p.findFullTextIndex(c.FieldPos).isSet {
				return nil, fmt.Errorf("%w: no FullText index on field %q", ridgetype.ErrMatchingIndexNotFound, c.FieldName)
			}
		}
	}

	// order_by fields already seen by an equality clause contribute
	// nothing further; the rest are carried forward as unresolved.
	var unresolvedOrder []OrderTerm
	for _, term := range expr.OrderBy {
		pos := p.Schema.FieldIndex(term.Field)
		if pos < 0 {
			return nil, fmt.Errorf("%w: unknown order_by field %q", ridgetype.ErrInvalidQuery, term.Field)
		}
		if seenByEquality(pos, clauses) {
			continue
		}
		unresolvedOrder = append(unresolvedOrder, OrderTerm{Field: term.Field, Direction: term.Direction})
	}

	rq, rangeClauseIdxs, err := findRangeQuery(clauses, unresolvedOrder, p.Schema)
	if err != nil {
		return nil, err
	}

	consumed := make([]bool, len(clauses))
	for _, ci := range rangeClauseIdxs {
		consumed[ci] = true
	}

	var scans []IndexScanPlan
	// claims[i] holds the clause indices scans[i] would consume if
	// chosen, tracked per-candidate rather than in the shared consumed
	// array so an unchosen candidate's clauses fall back to residual
	// instead of silently vanishing (they were marked consumed only to
	// keep later candidates from double-claiming the same clause).
	var claims [][]int
	var singleSatisfies = -1

	// FullText candidates: one scan per fulltext clause.
	for i, c := range clauses {
		if !c.Op.IsFullText() {
			continue
		}
		ft := p.findFullTextIndex(c.FieldPos)
		consumed[i] = true
		scan := IndexScanPlan{
			IndexPos:  ft.pos,
			Def:       ft.def,
			Tokens:    c.Tokens,
			RequireOp: c.Op,
		}
		scans = append(scans, scan)
		claims = append(claims, []int{i})
		if candidateSatisfiesOrder(scan, expr.OrderBy, unresolvedOrder) {
			singleSatisfies = len(scans) - 1
		}
	}

	// SortedInverted candidates: greedy maximal-prefix match per index.
	for idxPos, idef := range p.Schema.SecondaryIndexes {
		si, ok := idef.(ridgetype.SortedInvertedIndex)
		if !ok {
			continue
		}
		matchedEq := 0
		var eqIdx []int
		for _, fpos := range si.Fields {
			ci := findUnconsumedEq(clauses, consumed, fpos)
			if ci < 0 {
				break
			}
			eqIdx = append(eqIdx, ci)
			matchedEq++
		}

		hasRange := false
		if rq != nil && matchedEq < len(si.Fields) && si.Fields[matchedEq] == rq.FieldPos {
			hasRange = true
		}
		if matchedEq == 0 && !hasRange {
			continue
		}

		for _, ci := range eqIdx {
			consumed[ci] = true
		}

		scan := IndexScanPlan{IndexPos: idxPos, Def: idef, Direction: Ascending}
		for _, ci := range eqIdx {
			scan.EqValues = append(scan.EqValues, clauses[ci].Value)
		}
		claim := append([]int(nil), eqIdx...)
		if hasRange {
			scan.HasRange = true
			scan.Direction = rq.Direction
			scan.HasLower = rq.HasLower
			scan.Lower = rq.LowerVal
			scan.LowerStrict = rq.LowerStrict
			scan.HasUpper = rq.HasUpper
			scan.Upper = rq.UpperVal
			scan.UpperStrict = rq.UpperStrict
			claim = append(claim, rangeClauseIdxs...)
		}

		satisfies := candidateSatisfiesOrder(scan, expr.OrderBy, unresolvedOrder)
		scans = append(scans, scan)
		claims = append(claims, claim)
		if satisfies {
			singleSatisfies = len(scans) - 1
		}
	}

	switch {
	case len(scans) == 0 && len(expr.OrderBy) == 0:
		return &Plan{Kind: PlanSeqScan, SeqDirection: Ascending, Residual: clauses, Skip: expr.Skip, Limit: expr.Limit}, nil
	case len(scans) == 0:
		return nil, fmt.Errorf("%w: no secondary index can serve the requested order", ridgetype.ErrMatchingIndexNotFound)
	case singleSatisfies >= 0:
		chosen := scans[singleSatisfies]
		claimed := make([]bool, len(clauses))
		for _, ci := range claims[singleSatisfies] {
			claimed[ci] = true
		}
		var residual []clause
		for i, c := range clauses {
			if !claimed[i] {
				residual = append(residual, c)
			}
		}
		return &Plan{Kind: PlanIndexScan, Scans: []IndexScanPlan{chosen}, Residual: residual, OrderBy: expr.OrderBy, Skip: expr.Skip, Limit: expr.Limit}, nil
	default:
		claimed := make([]bool, len(clauses))
		for _, c := range claims {
			for _, ci := range c {
				claimed[ci] = true
			}
		}
		var residual []clause
		for i, c := range clauses {
			if !claimed[i] {
				residual = append(residual, c)
			}
		}
		return &Plan{Kind: PlanIndexScans, Scans: scans, Residual: residual, NeedsPostSort: len(expr.OrderBy) > 0, OrderBy: expr.OrderBy, Skip: expr.Skip, Limit: expr.Limit}, nil
	}
}

func (p *Planner) collectClauses(expr FilterExpression, out *[]clause) error {
	switch e := expr.(type) {
	case Simple:
		pos := p.Schema.FieldIndex(e.Field)
		if pos < 0 {
			return fmt.Errorf("%w: unknown field %q", ridgetype.ErrInvalidQuery, e.Field)
		}
		if e.Op.IsFullText() {
			tokens, err := coerceTokens(e.Op, e.Value)
			if err != nil {
				return err
			}
			*out = append(*out, clause{FieldPos: pos, FieldName: e.Field, Op: e.Op, Tokens: tokens})
			return nil
		}
		if e.Value == nil && e.Op != Eq {
			return fmt.Errorf("%w: null literal only pairs with Eq", ridgetype.ErrInvalidQuery)
		}
		ft := p.Schema.Fields[pos].Type
		val, err := CoerceValue(e.Value, ft)
		if err != nil {
			return err
		}
		*out = append(*out, clause{FieldPos: pos, FieldName: e.Field, Op: e.Op, Value: val})
		return nil
	case And:
		for _, sub := range e.Exprs {
			if err := p.collectClauses(sub, out); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown filter expression %T", ridgetype.ErrInvalidQuery, expr)
	}
}

type ftIndex struct {
	isSet bool
	pos   int
	def   ridgetype.IndexDefinition
}

func (p *Planner) findFullTextIndex(fieldPos int) ftIndex {
	for i, idef := range p.Schema.SecondaryIndexes {
		if ft, ok := idef.(ridgetype.FullTextIndex); ok && ft.Field == fieldPos {
			return ftIndex{isSet: true, pos: i, def: idef}
		}
	}
	return ftIndex{}
}

func seenByEquality(fieldPos int, clauses []clause) bool {
	for _, c := range clauses {
		if c.FieldPos == fieldPos && c.Op == Eq {
			return true
		}
	}
	return false
}

func findUnconsumedEq(clauses []clause, consumed []bool, fieldPos int) int {
	for i, c := range clauses {
		if consumed[i] || c.Op != Eq || c.Op.IsFullText() {
			continue
		}
		if c.FieldPos == fieldPos {
			return i
		}
	}
	return -1
}

// rangeQuery is the single field across a query's conjunction permitted
// to carry a non-equality comparison. Bounds are gathered per field,
// not per clause, so a Gte+Lte pair on the same field collapses into
// one two-sided range rather than tripping the limit twice.
type rangeQuery struct {
	FieldPos    int
	HasLower    bool
	LowerVal    ridgetype.Field
	LowerStrict bool
	HasUpper    bool
	UpperVal    ridgetype.Field
	UpperStrict bool
	Direction   Direction
}

// findRangeQuery enforces the range-query limit and identifies the one
// field, if any, whose scan must be bounded/ordered by a range rather
// than an equality. The limit counts distinct fields carrying a range
// operator, not clause occurrences, since a field legitimately carries
// both a lower and an upper bound clause at once.
func findRangeQuery(clauses []clause, unresolvedOrder []OrderTerm, schema ridgetype.Schema) (*rangeQuery, []int, error) {
	byField := make(map[int][]int)
	var fieldOrder []int
	for i, c := range clauses {
		if !c.Op.IsRange() {
			continue
		}
		if _, ok := byField[c.FieldPos]; !ok {
			fieldOrder = append(fieldOrder, c.FieldPos)
		}
		byField[c.FieldPos] = append(byField[c.FieldPos], i)
	}

	orderFieldPos := -1
	orderContributesNewField := false
	if len(unresolvedOrder) > 0 {
		orderFieldPos = schema.FieldIndex(unresolvedOrder[0].Field)
		if _, ok := byField[orderFieldPos]; !ok {
			orderContributesNewField = true
		}
	}

	numFields := len(fieldOrder)
	if orderContributesNewField {
		numFields++
	}
	if numFields > 1 {
		return nil, nil, fmt.Errorf("%w", ridgetype.ErrRangeQueryLimit)
	}

	if len(fieldOrder) == 1 {
		fpos := fieldOrder[0]
		idxs := byField[fpos]
		rq := &rangeQuery{FieldPos: fpos, Direction: Ascending}
		if len(unresolvedOrder) == 1 && unresolvedOrder[0].Field == schema.Fields[fpos].Name {
			rq.Direction = unresolvedOrder[0].Direction
		}
		for _, ci := range idxs {
			c := clauses[ci]
			switch c.Op {
			case Gt:
				rq.HasLower, rq.LowerVal, rq.LowerStrict = true, c.Value, true
			case Gte:
				rq.HasLower, rq.LowerVal, rq.LowerStrict = true, c.Value, false
			case Lt:
				rq.HasUpper, rq.UpperVal, rq.UpperStrict = true, c.Value, true
			case Lte:
				rq.HasUpper, rq.UpperVal, rq.UpperStrict = true, c.Value, false
			}
		}
		return rq, idxs, nil
	}

	if orderContributesNewField {
		first := unresolvedOrder[0]
		return &rangeQuery{FieldPos: orderFieldPos, Direction: first.Direction}, nil, nil
	}
	return nil, nil, nil
}

// candidateSatisfiesOrder reports whether choosing scan alone, with no
// further in-memory sort, already yields the requested order_by
// sequence. This relies on two properties of the underlying multimap:
// keys are stored in the declared field-type order (encoding package),
// and duplicate op_ids under one key are stored in ascending numeric
// (hence record_id) order, exactly the record-id tie-break query
// results guarantee. Since the range-query limit admits only one field
// across the whole expression, any candidate with HasRange set
// necessarily targets that same field, so no further position check is
// needed for the range branch.
func candidateSatisfiesOrder(scan IndexScanPlan, orderBy, unresolvedOrder []OrderTerm) bool {
	if len(orderBy) == 0 {
		return true
	}
	if len(unresolvedOrder) == 0 {
		// Every order_by field is pinned by an equality clause, so all
		// results tie on the order key and must come back in ascending
		// record-id order. Only scans whose keys are fully pinned yield
		// that natively: a SortedInverted scan with trailing unpinned
		// index fields (or a range) groups ids by those fields instead,
		// and multi-token FullText combinators merge per-token lists out
		// of id order.
		switch d := scan.Def.(type) {
		case ridgetype.SortedInvertedIndex:
			return !scan.HasRange && len(scan.EqValues) == len(d.Fields)
		case ridgetype.FullTextIndex:
			return scan.RequireOp == Contains
		}
		return false
	}
	return len(unresolvedOrder) == 1 && scan.HasRange
}
