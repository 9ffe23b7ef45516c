package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgecache/ridge/ridgetype"
)

func planSchema() ridgetype.Schema {
	return ridgetype.Schema{
		ID: 1,
		Fields: []ridgetype.FieldDefinition{
			{Name: "id", Type: ridgetype.UInt},
			{Name: "city", Type: ridgetype.String},
			{Name: "age", Type: ridgetype.UInt},
			{Name: "bio", Type: ridgetype.Text},
		},
		PrimaryIndex: []int{0},
		SecondaryIndexes: []ridgetype.IndexDefinition{
			ridgetype.SortedInvertedIndex{Fields: []int{1, 2}},
			ridgetype.FullTextIndex{Field: 3},
		},
	}
}

func TestPlanNoFilterNoOrderIsSeqScan(t *testing.T) {
	p := NewPlanner(planSchema())
	plan, err := p.Plan(Expression{})
	require.NoError(t, err)
	assert.Equal(t, PlanSeqScan, plan.Kind)
}

func TestPlanEqualityUsesIndexScan(t *testing.T) {
	p := NewPlanner(planSchema())
	plan, err := p.Plan(Expression{Filter: Simple{Field: "city", Op: Eq, Value: "NY"}})
	require.NoError(t, err)
	require.Equal(t, PlanIndexScan, plan.Kind)
	assert.Equal(t, 0, plan.Scans[0].IndexPos)
	assert.Empty(t, plan.Residual)
}

func TestPlanMaximalPrefixMatch(t *testing.T) {
	p := NewPlanner(planSchema())
	plan, err := p.Plan(Expression{Filter: And{Exprs: []FilterExpression{
		Simple{Field: "city", Op: Eq, Value: "NY"},
		Simple{Field: "age", Op: Eq, Value: float64(30)},
	}}})
	require.NoError(t, err)
	require.Equal(t, PlanIndexScan, plan.Kind)
	require.Len(t, plan.Scans[0].EqValues, 2)
	assert.Empty(t, plan.Residual)
}

func TestPlanRangeOnSecondEqualityField(t *testing.T) {
	p := NewPlanner(planSchema())
	plan, err := p.Plan(Expression{Filter: And{Exprs: []FilterExpression{
		Simple{Field: "city", Op: Eq, Value: "NY"},
		Simple{Field: "age", Op: Gte, Value: float64(18)},
	}}})
	require.NoError(t, err)
	require.Equal(t, PlanIndexScan, plan.Kind)
	scan := plan.Scans[0]
	assert.True(t, scan.HasRange)
	assert.True(t, scan.HasLower)
	assert.False(t, scan.LowerStrict)
}

func TestPlanRangeQueryLimitRejectsTwoRangeFields(t *testing.T) {
	p := NewPlanner(ridgetype.Schema{
		ID: 2,
		Fields: []ridgetype.FieldDefinition{
			{Name: "a", Type: ridgetype.UInt},
			{Name: "b", Type: ridgetype.UInt},
		},
		SecondaryIndexes: []ridgetype.IndexDefinition{
			ridgetype.SortedInvertedIndex{Fields: []int{0}},
			ridgetype.SortedInvertedIndex{Fields: []int{1}},
		},
	})
	_, err := p.Plan(Expression{Filter: And{Exprs: []FilterExpression{
		Simple{Field: "a", Op: Gt, Value: float64(1)},
		Simple{Field: "b", Op: Lt, Value: float64(2)},
	}}})
	assert.ErrorIs(t, err, ridgetype.ErrRangeQueryLimit)
}

func TestPlanFullTextWithoutIndexFails(t *testing.T) {
	p := NewPlanner(ridgetype.Schema{
		ID: 3,
		Fields: []ridgetype.FieldDefinition{
			{Name: "bio", Type: ridgetype.Text},
		},
	})
	_, err := p.Plan(Expression{Filter: Simple{Field: "bio", Op: Contains, Value: "hello"}})
	assert.ErrorIs(t, err, ridgetype.ErrMatchingIndexNotFound)
}

func TestPlanFullTextScan(t *testing.T) {
	p := NewPlanner(planSchema())
	plan, err := p.Plan(Expression{Filter: Simple{Field: "bio", Op: MatchesAny, Value: []interface{}{"hello", "world"}}})
	require.NoError(t, err)
	require.Equal(t, PlanIndexScan, plan.Kind)
	assert.Equal(t, []string{"hello", "world"}, plan.Scans[0].Tokens)
	assert.Equal(t, MatchesAny, plan.Scans[0].RequireOp)
}

func TestPlanContainsRejectsMultiWordLiteral(t *testing.T) {
	p := NewPlanner(planSchema())
	_, err := p.Plan(Expression{Filter: Simple{Field: "bio", Op: Contains, Value: "good morning"}})
	assert.ErrorIs(t, err, ridgetype.ErrInvalidQuery)

	_, err = p.Plan(Expression{Filter: Simple{Field: "bio", Op: Contains, Value: "   "}})
	assert.ErrorIs(t, err, ridgetype.ErrInvalidQuery, "a literal with no word tokens can never match")
}

func TestPlanMatchesAnySplitsMultiWordLiteral(t *testing.T) {
	p := NewPlanner(planSchema())
	plan, err := p.Plan(Expression{Filter: Simple{Field: "bio", Op: MatchesAny, Value: "coffee tea"}})
	require.NoError(t, err)
	require.Equal(t, PlanIndexScan, plan.Kind)
	assert.Equal(t, []string{"coffee", "tea"}, plan.Scans[0].Tokens)
}

func TestPlanOrderByWithNoMatchingIndexFails(t *testing.T) {
	p := NewPlanner(planSchema())
	_, err := p.Plan(Expression{OrderBy: []OrderTerm{{Field: "bio", Direction: Ascending}}})
	assert.ErrorIs(t, err, ridgetype.ErrMatchingIndexNotFound)
}

func TestPlanUnknownFieldFails(t *testing.T) {
	p := NewPlanner(planSchema())
	_, err := p.Plan(Expression{Filter: Simple{Field: "nope", Op: Eq, Value: "x"}})
	assert.ErrorIs(t, err, ridgetype.ErrInvalidQuery)
}

func TestSupportsOperator(t *testing.T) {
	assert.True(t, SupportsOperator(ridgetype.SortedInvertedIndex{}, Eq))
	assert.False(t, SupportsOperator(ridgetype.SortedInvertedIndex{}, Contains))
	assert.True(t, SupportsOperator(ridgetype.FullTextIndex{}, Contains))
	assert.False(t, SupportsOperator(ridgetype.FullTextIndex{}, Eq))
}
