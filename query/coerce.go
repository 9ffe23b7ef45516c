package query

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ridgecache/ridge/ridgetype"
	"github.com/ridgecache/ridge/secondary"
)

// CoerceValue converts a plain Go literal (as it would arrive already
// JSON-decoded: nil, bool, float64, string, []interface{}) to a Field
// of the declared type. A nil literal only pairs with Eq; the planner
// enforces that before calling here.
func CoerceValue(v interface{}, t ridgetype.FieldType) (ridgetype.Field, error) {
	if v == nil {
		return ridgetype.NullField(t), nil
	}
	switch t {
	case ridgetype.UInt:
		n, err := asFloat(v)
		if err != nil || n < 0 {
			return ridgetype.Field{}, fmt.Errorf("%w: %v is not a non-negative number", ridgetype.ErrInvalidQuery, v)
		}
		return ridgetype.NewUint(uint64(n)), nil
	case ridgetype.Int, ridgetype.Timestamp, ridgetype.Duration:
		n, err := asFloat(v)
		if err != nil {
			return ridgetype.Field{}, err
		}
		switch t {
		case ridgetype.Timestamp:
			return ridgetype.NewTimestamp(time.Unix(0, int64(n)).UTC()), nil
		case ridgetype.Duration:
			return ridgetype.NewDuration(time.Duration(int64(n))), nil
		default:
			return ridgetype.NewInt(int64(n)), nil
		}
	case ridgetype.Date:
		n, err := asFloat(v)
		if err != nil {
			return ridgetype.Field{}, err
		}
		return ridgetype.NewDate(ridgetype.DateValue{Days: int32(n)}), nil
	case ridgetype.U128, ridgetype.I128:
		s, ok := v.(string)
		if !ok {
			return ridgetype.Field{}, fmt.Errorf("%w: %v is not a big-integer string", ridgetype.ErrInvalidQuery, v)
		}
		b, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return ridgetype.Field{}, fmt.Errorf("%w: %q is not a valid integer", ridgetype.ErrInvalidQuery, s)
		}
		if t == ridgetype.U128 {
			return ridgetype.NewU128(b), nil
		}
		return ridgetype.NewI128(b), nil
	case ridgetype.Float:
		n, err := asFloat(v)
		if err != nil {
			return ridgetype.Field{}, err
		}
		return ridgetype.NewFloat(n), nil
	case ridgetype.Boolean:
		b, ok := v.(bool)
		if !ok {
			return ridgetype.Field{}, fmt.Errorf("%w: %v is not a boolean", ridgetype.ErrInvalidQuery, v)
		}
		return ridgetype.NewBoolean(b), nil
	case ridgetype.String:
		s, ok := v.(string)
		if !ok {
			return ridgetype.Field{}, fmt.Errorf("%w: %v is not a string", ridgetype.ErrInvalidQuery, v)
		}
		return ridgetype.NewString(s), nil
	case ridgetype.Text:
		s, ok := v.(string)
		if !ok {
			return ridgetype.Field{}, fmt.Errorf("%w: %v is not a string", ridgetype.ErrInvalidQuery, v)
		}
		return ridgetype.NewText(s), nil
	default:
		return ridgetype.Field{}, fmt.Errorf("%w: operator literal not supported for field type %s", ridgetype.ErrInvalidQuery, t)
	}
}

func asFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: %v is not a number", ridgetype.ErrInvalidQuery, v)
	}
}

// coerceTokens converts a Contains/MatchesAny/MatchesAll literal (a
// string or a list of strings) into a token list, word-splitting each
// string the same way the FullText indexer does so a literal like
// "New York" matches by its tokens rather than being stored as one
// unsplittable phrase no index entry can equal. Contains admits exactly
// one token; a multi-word Contains literal is rejected rather than
// silently matching only its first word.
func coerceTokens(op Operator, v interface{}) ([]string, error) {
	var tokens []string
	switch t := v.(type) {
	case string:
		tokens = secondary.Tokenize(t)
	case []interface{}:
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s literal elements must be strings", ridgetype.ErrInvalidQuery, op)
			}
			tokens = append(tokens, secondary.Tokenize(s)...)
		}
	default:
		return nil, fmt.Errorf("%w: %s literal must be a string or list of strings", ridgetype.ErrInvalidQuery, op)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: %s literal contains no word tokens", ridgetype.ErrInvalidQuery, op)
	}
	if op == Contains && len(tokens) > 1 {
		return nil, fmt.Errorf("%w: Contains literal must be a single word, got %d tokens", ridgetype.ErrInvalidQuery, len(tokens))
	}
	return tokens, nil
}
