package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/ridgecache/ridge/encoding"
	"github.com/ridgecache/ridge/mainenv"
	"github.com/ridgecache/ridge/ridgetype"
	"github.com/ridgecache/ridge/secondary"
)

// SecondaryLookup resolves one of a schema's secondary index positions
// to its open environment. An Executor takes this as a function rather
// than a concrete map so package query never has to import package
// cache, which is the thing that owns the pool of open secondary
// environments.
type SecondaryLookup func(indexPos int) (*secondary.Environment, error)

// Executor runs a compiled Plan against one consistent snapshot of a
// cache: a main environment read transaction plus whatever secondary
// environments its scans touch.
type Executor struct {
	Main                  *mainenv.RoMainEnvironment
	Secondaries           SecondaryLookup
	IntersectionChunkSize int
}

// NewExecutor builds an Executor. intersectionChunkSize defaults to 100
// when zero or negative.
func NewExecutor(main *mainenv.RoMainEnvironment, lookup SecondaryLookup, intersectionChunkSize int) *Executor {
	if intersectionChunkSize <= 0 {
		intersectionChunkSize = 100
	}
	return &Executor{Main: main, Secondaries: lookup, IntersectionChunkSize: intersectionChunkSize}
}

// Run executes plan and returns every matching record in the requested
// order, after skip/limit pagination. ctx is polled between record
// dereferences; a cancelled ctx surfaces as ridgetype.ErrCancelled.
func (ex *Executor) Run(ctx context.Context, plan *Plan) ([]ridgetype.RecordWithID, error) {
	var rows []ridgetype.RecordWithID
	var err error

	switch plan.Kind {
	case PlanSeqScan:
		rows, err = ex.seqScan(ctx, plan)
	case PlanIndexScan:
		rows, err = ex.singleIndexScan(ctx, plan)
	case PlanIndexScans:
		rows, err = ex.multiIndexScan(ctx, plan)
	default:
		return nil, fmt.Errorf("query: unknown plan kind %d", plan.Kind)
	}
	if err != nil {
		return nil, err
	}

	if plan.NeedsPostSort {
		if err := ex.sortRows(rows, plan.OrderBy); err != nil {
			return nil, err
		}
	}

	return paginate(rows, plan.Skip, plan.Limit), nil
}

// Count reports how many records expr matches, without materializing
// them when the chosen plan is a single IndexScan with no residual
// predicate left to evaluate and either a bare equality SortedInverted
// scan or a single-token FullText Contains scan; every other shape falls
// back to Run and counts the rows it returns.
func (ex *Executor) Count(ctx context.Context, expr Expression) (int, error) {
	schema, _ := ex.Main.Schema()
	plan, err := NewPlanner(schema).Plan(expr)
	if err != nil {
		return 0, err
	}
	if plan.Kind == PlanIndexScan && len(plan.Residual) == 0 {
		scan := plan.Scans[0]
		switch scan.Def.(type) {
		case ridgetype.SortedInvertedIndex:
			if !scan.HasRange {
				env, err := ex.Secondaries(scan.IndexPos)
				if err != nil {
					return 0, err
				}
				prefix, err := encoding.EncodeFields(scan.EqValues)
				if err != nil {
					return 0, err
				}
				return env.Count(prefix)
			}
		case ridgetype.FullTextIndex:
			// Only a single-token Contains maps onto one duplicate-count
			// call; MatchesAny/MatchesAll need set arithmetic and fall
			// back to Run below.
			if scan.RequireOp == Contains && len(scan.Tokens) > 0 {
				env, err := ex.Secondaries(scan.IndexPos)
				if err != nil {
					return 0, err
				}
				return env.Count(secondary.EncodeToken(scan.Tokens[0]))
			}
		}
	}
	rows, err := ex.Run(ctx, plan)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (ex *Executor) seqScan(ctx context.Context, plan *Plan) ([]ridgetype.RecordWithID, error) {
	var rows []ridgetype.RecordWithID
	err := ex.Main.ForEachPresentRecord(func(id ridgetype.RecordID, version uint64, rec ridgetype.Record) error {
		if err := ctx.Err(); err != nil {
			return ridgetype.ErrCancelled
		}
		ok, err := evalClauses(plan.Residual, rec)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		rows = append(rows, ridgetype.RecordWithID{ID: id, Version: version, Record: rec})
		return nil
	})
	return rows, err
}

func (ex *Executor) singleIndexScan(ctx context.Context, plan *Plan) ([]ridgetype.RecordWithID, error) {
	scan := plan.Scans[0]
	ids, err := ex.scanIDs(scan)
	if err != nil {
		return nil, err
	}
	return ex.dereferenceAndFilter(ctx, ids, plan.Residual, []IndexScanPlan{scan})
}

func (ex *Executor) multiIndexScan(ctx context.Context, plan *Plan) ([]ridgetype.RecordWithID, error) {
	if len(plan.Scans) == 0 {
		return nil, nil
	}

	idSets := make([]map[ridgetype.RecordID]struct{}, len(plan.Scans))
	var ordered []ridgetype.RecordID
	for i, scan := range plan.Scans {
		ids, err := ex.scanIDs(scan)
		if err != nil {
			return nil, err
		}
		set := make(map[ridgetype.RecordID]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		idSets[i] = set
		if i == 0 {
			ordered = ids
		}
	}

	// Intersect in bounded chunks off the first scan's result, rather
	// than materializing one cross-product set, bounded by
	// IntersectionChunkSize.
	var matched []ridgetype.RecordID
	chunk := ex.IntersectionChunkSize
	for start := 0; start < len(ordered); start += chunk {
		end := start + chunk
		if end > len(ordered) {
			end = len(ordered)
		}
		for _, id := range ordered[start:end] {
			inAll := true
			for i := 1; i < len(idSets); i++ {
				if _, ok := idSets[i][id]; !ok {
					inAll = false
					break
				}
			}
			if inAll {
				matched = append(matched, id)
			}
		}
	}

	return ex.dereferenceAndFilter(ctx, matched, plan.Residual, plan.Scans)
}

// dereferenceAndFilter resolves each candidate id to its present record,
// dropping any id whose record has since been deleted or superseded,
// then applies the plan's residual predicate plus any strict-inequality
// bound the chosen scan(s) only satisfy inclusively. ctx is polled
// before each dereference.
func (ex *Executor) dereferenceAndFilter(ctx context.Context, ids []ridgetype.RecordID, residual []clause, scans []IndexScanPlan) ([]ridgetype.RecordWithID, error) {
	var extra []clause
	for _, scan := range scans {
		extra = append(extra, strictnessClauses(scan)...)
	}

	var rows []ridgetype.RecordWithID
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, ridgetype.ErrCancelled
		}
		rec, version, ok, err := ex.Main.GetByRecordID(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		match, err := evalClauses(residual, rec)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		match, err = evalClauses(extra, rec)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		rows = append(rows, ridgetype.RecordWithID{ID: id, Version: version, Record: rec})
	}
	return rows, nil
}

// strictnessClauses recovers the Gt/Lt exclusivity a range scan only
// approximated inclusively at the storage layer, so the executor can
// reject boundary-equal records in memory instead.
func strictnessClauses(scan IndexScanPlan) []clause {
	if !scan.HasRange || (!scan.LowerStrict && !scan.UpperStrict) {
		return nil
	}
	si, ok := scan.Def.(ridgetype.SortedInvertedIndex)
	if !ok || len(scan.EqValues) >= len(si.Fields) {
		return nil
	}
	fieldPos := si.Fields[len(scan.EqValues)]
	var cs []clause
	if scan.LowerStrict {
		cs = append(cs, clause{FieldPos: fieldPos, Op: Gt, Value: scan.Lower})
	}
	if scan.UpperStrict {
		cs = append(cs, clause{FieldPos: fieldPos, Op: Lt, Value: scan.Upper})
	}
	return cs
}

func (ex *Executor) scanIDs(scan IndexScanPlan) ([]ridgetype.RecordID, error) {
	env, err := ex.Secondaries(scan.IndexPos)
	if err != nil {
		return nil, err
	}
	if _, ok := scan.Def.(ridgetype.FullTextIndex); ok {
		return ex.scanFullText(env, scan)
	}
	return ex.scanSortedInverted(env, scan)
}

func (ex *Executor) scanSortedInverted(env *secondary.Environment, scan IndexScanPlan) ([]ridgetype.RecordID, error) {
	if !scan.HasRange {
		prefix, err := encoding.EncodeFields(scan.EqValues)
		if err != nil {
			return nil, err
		}
		ops, err := env.ScanEq(prefix)
		if err != nil {
			return nil, err
		}
		return toRecordIDs(ops), nil
	}

	prefix, err := encoding.EncodeFields(scan.EqValues)
	if err != nil {
		return nil, err
	}

	var lower, upper []byte
	if scan.HasLower {
		lower, err = encoding.EncodeFields(append(append([]ridgetype.Field(nil), scan.EqValues...), scan.Lower))
		if err != nil {
			return nil, err
		}
	} else if len(prefix) > 0 {
		lower = prefix
	}

	if scan.HasUpper {
		key, err := encoding.EncodeFields(append(append([]ridgetype.Field(nil), scan.EqValues...), scan.Upper))
		if err != nil {
			return nil, err
		}
		// The encoded bound is only a prefix of a boundary key when the
		// index carries fields after the range field, so extend the
		// exclusive bound past the whole boundary group; a strict Lt is
		// re-tightened in memory by strictnessClauses.
		upper = prefixUpperBound(key)
	} else if len(prefix) > 0 {
		upper = prefixUpperBound(prefix)
	}

	dir := secondary.Ascending
	if scan.Direction == Descending {
		dir = secondary.Descending
	}
	ops, err := env.ScanRange(lower, upper, dir)
	if err != nil {
		return nil, err
	}
	return toRecordIDs(ops), nil
}

func (ex *Executor) scanFullText(env *secondary.Environment, scan IndexScanPlan) ([]ridgetype.RecordID, error) {
	switch scan.RequireOp {
	case Contains:
		if len(scan.Tokens) == 0 {
			return nil, nil
		}
		ops, err := env.ScanEq(secondary.EncodeToken(scan.Tokens[0]))
		if err != nil {
			return nil, err
		}
		return toRecordIDs(ops), nil

	case MatchesAny:
		seen := make(map[ridgetype.RecordID]struct{})
		var ids []ridgetype.RecordID
		for _, tok := range scan.Tokens {
			ops, err := env.ScanEq(secondary.EncodeToken(tok))
			if err != nil {
				return nil, err
			}
			for _, o := range ops {
				id := o.AsRecordID()
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		return ids, nil

	case MatchesAll:
		if len(scan.Tokens) == 0 {
			return nil, nil
		}
		sets := make([]map[ridgetype.RecordID]struct{}, len(scan.Tokens))
		var first []ridgetype.RecordID
		for i, tok := range scan.Tokens {
			ops, err := env.ScanEq(secondary.EncodeToken(tok))
			if err != nil {
				return nil, err
			}
			ids := toRecordIDs(ops)
			set := make(map[ridgetype.RecordID]struct{}, len(ids))
			for _, id := range ids {
				set[id] = struct{}{}
			}
			sets[i] = set
			if i == 0 {
				first = ids
			}
		}
		var out []ridgetype.RecordID
		for _, id := range first {
			all := true
			for _, s := range sets[1:] {
				if _, ok := s[id]; !ok {
					all = false
					break
				}
			}
			if all {
				out = append(out, id)
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("query: unsupported fulltext operator %s", scan.RequireOp)
	}
}

func toRecordIDs(ops []ridgetype.OperationID) []ridgetype.RecordID {
	ids := make([]ridgetype.RecordID, len(ops))
	for i, o := range ops {
		ids[i] = o.AsRecordID()
	}
	return ids
}

// prefixUpperBound returns the smallest byte string that sorts strictly
// after every key with the given prefix, by incrementing its last
// non-0xff byte and dropping everything after it. Used as ScanRange's
// exclusive upper bound: for an equality-prefixed scan it stops the
// cursor at the end of the prefix group, and for an inclusive range
// bound it keeps boundary keys whose index has trailing fields (their
// keys extend the encoded bound and would otherwise compare past it).
// Returns nil (unbounded) if prefix is all 0xff bytes.
func prefixUpperBound(prefix []byte) []byte {
	b := append([]byte(nil), prefix...)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xff {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}

func evalClauses(clauses []clause, rec ridgetype.Record) (bool, error) {
	for _, c := range clauses {
		ok, err := evalClause(c, rec)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalClause(c clause, rec ridgetype.Record) (bool, error) {
	if c.FieldPos < 0 || c.FieldPos >= len(rec.Values) {
		return false, fmt.Errorf("query: field position %d out of range", c.FieldPos)
	}
	v := rec.Values[c.FieldPos]

	if c.Op.IsFullText() {
		s, ok := v.Str()
		if !ok {
			return false, nil
		}
		tokens := secondary.Tokenize(s)
		present := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			present[t] = struct{}{}
		}
		switch c.Op {
		case Contains:
			_, ok := present[c.Tokens[0]]
			return ok, nil
		case MatchesAny:
			for _, t := range c.Tokens {
				if _, ok := present[t]; ok {
					return true, nil
				}
			}
			return false, nil
		case MatchesAll:
			for _, t := range c.Tokens {
				if _, ok := present[t]; !ok {
					return false, nil
				}
			}
			return true, nil
		}
		return false, nil
	}

	if v.IsNull || c.Value.IsNull {
		if c.Op == Eq {
			return v.IsNull && c.Value.IsNull, nil
		}
		return false, nil
	}

	cmp, err := compareFields(v, c.Value)
	if err != nil {
		return false, err
	}
	switch c.Op {
	case Eq:
		return cmp == 0, nil
	case Lt:
		return cmp < 0, nil
	case Lte:
		return cmp <= 0, nil
	case Gt:
		return cmp > 0, nil
	case Gte:
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("query: unsupported operator %s", c.Op)
	}
}

func (ex *Executor) sortRows(rows []ridgetype.RecordWithID, orderBy []OrderTerm) error {
	schema, _ := ex.Main.Schema()
	positions := make([]int, len(orderBy))
	for i, term := range orderBy {
		pos := schema.FieldIndex(term.Field)
		if pos < 0 {
			return fmt.Errorf("%w: unknown order_by field %q", ridgetype.ErrInvalidQuery, term.Field)
		}
		positions[i] = pos
	}

	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for k, pos := range positions {
			cmp, err := compareFields(rows[i].Record.Values[pos], rows[j].Record.Values[pos])
			if err != nil {
				sortErr = err
				return false
			}
			if cmp == 0 {
				continue
			}
			if orderBy[k].Direction == Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return rows[i].ID < rows[j].ID // ties break on ascending record id
	})
	return sortErr
}

func paginate(rows []ridgetype.RecordWithID, skip Skip, limit *int) []ridgetype.RecordWithID {
	start := 0
	switch skip.Mode {
	case SkipCount:
		start = skip.N
		if start > len(rows) {
			start = len(rows)
		}
	case SkipAfter:
		start = len(rows)
		for i, r := range rows {
			if uint64(r.ID) > skip.After {
				start = i
				break
			}
		}
	}
	rows = rows[start:]
	if limit != nil && *limit < len(rows) {
		rows = rows[:*limit]
	}
	return rows
}
