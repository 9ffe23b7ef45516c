package mainenv

import (
	"fmt"

	"github.com/ridgecache/ridge/encoding"
	"github.com/ridgecache/ridge/ridgetype"
)

// EncodePrimaryKey builds the primary-key index key for a record's
// values under a schema's declared primary_index field positions. It is
// exported so callers can build the same bytes from literal field
// values to pass to Delete/Update/Get without constructing a full
// Record.
func EncodePrimaryKey(schema ridgetype.Schema, values []ridgetype.Field) ([]byte, error) {
	if !schema.HasPrimaryIndex() {
		return nil, fmt.Errorf("mainenv: schema has no primary index")
	}
	pkValues := make([]ridgetype.Field, len(schema.PrimaryIndex))
	for i, pos := range schema.PrimaryIndex {
		if pos < 0 || pos >= len(values) {
			return nil, fmt.Errorf("mainenv: primary index position %d out of range", pos)
		}
		pkValues[i] = values[pos]
	}
	return encoding.EncodeFields(pkValues)
}

func fieldTypes(schema ridgetype.Schema) []ridgetype.FieldType {
	types := make([]ridgetype.FieldType, len(schema.Fields))
	for i, f := range schema.Fields {
		types[i] = f.Type
	}
	return types
}

// validateRecord checks a record's shape and per-field type compatibility
// against the schema.
func validateRecord(schema ridgetype.Schema, record ridgetype.Record) error {
	if len(record.Values) != len(schema.Fields) {
		return fmt.Errorf("mainenv: %w: record has %d values, schema has %d fields",
			ridgetype.ErrSchemaMismatch, len(record.Values), len(schema.Fields))
	}
	for i, v := range record.Values {
		fd := schema.Fields[i]
		if v.IsNull {
			if !fd.Nullable {
				return fmt.Errorf("mainenv: %w: field %q is not nullable", ridgetype.ErrSchemaMismatch, fd.Name)
			}
			continue
		}
		if v.Typ != fd.Type {
			return fmt.Errorf("mainenv: %w: field %q expects %s, got %s",
				ridgetype.ErrSchemaMismatch, fd.Name, fd.Type, v.Typ)
		}
	}
	return nil
}
