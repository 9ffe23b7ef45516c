package secondary

import (
	"encoding/binary"
	"fmt"
	"regexp"

	"github.com/ridgecache/ridge/encoding"
	"github.com/ridgecache/ridge/ridgetype"
)

// wordPattern matches a Unicode letter run optionally followed by
// letters and digits, the unit FullText indexing tokenizes on.
var wordPattern = regexp.MustCompile(`\pL[\pL\pN]*`)

// ExtractKeys computes the index key(s) record produces under def. It
// lives here rather than as a ridgetype.IndexDefinition method to avoid
// pulling the encoding package's dependency down into ridgetype.
func ExtractKeys(def ridgetype.IndexDefinition, record ridgetype.Record) ([][]byte, error) {
	switch d := def.(type) {
	case ridgetype.SortedInvertedIndex:
		values := make([]ridgetype.Field, len(d.Fields))
		for i, pos := range d.Fields {
			if pos < 0 || pos >= len(record.Values) {
				return nil, fmt.Errorf("secondary: field position %d out of range", pos)
			}
			values[i] = record.Values[pos]
		}
		key, err := encoding.EncodeFields(values)
		if err != nil {
			return nil, err
		}
		return [][]byte{key}, nil

	case ridgetype.FullTextIndex:
		if d.Field < 0 || d.Field >= len(record.Values) {
			return nil, fmt.Errorf("secondary: field position %d out of range", d.Field)
		}
		v := record.Values[d.Field]
		if v.IsNull {
			return nil, fmt.Errorf("secondary: full text index field is null")
		}
		s, ok := v.Str()
		if !ok {
			return nil, fmt.Errorf("secondary: full text index field is not a string type, got %s", v.Typ)
		}
		return tokenize(s), nil

	default:
		return nil, fmt.Errorf("secondary: unsupported index definition %T", def)
	}
}

// Tokenize splits s into its unique word tokens, in the order they
// first appear, without the length-prefix encoding used for index
// storage keys. Exported so package query can test a literal against
// the same tokenization rule a FullText index was built with.
func Tokenize(s string) []string {
	words := wordPattern.FindAllString(s, -1)
	seen := make(map[string]struct{}, len(words))
	var tokens []string
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		tokens = append(tokens, w)
	}
	return tokens
}

// EncodeToken builds a FullText index key from a single token: a 4-byte
// big-endian length prefix followed by the token's UTF-8 bytes, so a
// short token ("cat") is never a false-positive byte prefix of a longer
// one ("category") under Environment.ScanEq's prefix match.
func EncodeToken(token string) []byte {
	b := make([]byte, 4+len(token))
	binary.BigEndian.PutUint32(b, uint32(len(token)))
	copy(b[4:], token)
	return b
}

// tokenize splits s into unique word tokens, each encoded as a FullText
// index key.
func tokenize(s string) [][]byte {
	words := Tokenize(s)
	keys := make([][]byte, len(words))
	for i, w := range words {
		keys[i] = EncodeToken(w)
	}
	return keys
}
