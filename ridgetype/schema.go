package ridgetype

// FieldDefinition describes one column of a schema.
type FieldDefinition struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// IndexKind is the closed set of secondary index variants.
type IndexKind int

const (
	KindSortedInverted IndexKind = iota
	KindFullText
)

// IndexDefinition is a tagged union over the two supported index kinds.
// It is closed by the unexported isIndexDefinition marker method, the
// idiomatic Go stand-in for a Rust-style enum: SortedInvertedIndex and
// FullTextIndex are the only implementations.
type IndexDefinition interface {
	Kind() IndexKind
	Equal(other IndexDefinition) bool
	isIndexDefinition()
}

// SortedInvertedIndex is a multi-column, lexicographically sorted index.
// It supports equality on any prefix of Fields and a range bound on the
// field immediately following the equality prefix.
type SortedInvertedIndex struct {
	Fields []int
}

func (SortedInvertedIndex) Kind() IndexKind    { return KindSortedInverted }
func (SortedInvertedIndex) isIndexDefinition() {}

func (s SortedInvertedIndex) Equal(other IndexDefinition) bool {
	o, ok := other.(SortedInvertedIndex)
	if !ok || len(o.Fields) != len(s.Fields) {
		return false
	}
	for i, f := range s.Fields {
		if o.Fields[i] != f {
			return false
		}
	}
	return true
}

// FullTextIndex tokenizes a single string field on word boundaries and
// inserts one entry per unique token.
type FullTextIndex struct {
	Field int
}

func (FullTextIndex) Kind() IndexKind    { return KindFullText }
func (FullTextIndex) isIndexDefinition() {}

func (f FullTextIndex) Equal(other IndexDefinition) bool {
	o, ok := other.(FullTextIndex)
	return ok && o.Field == f.Field
}

// Schema is an ordered list of fields together with a primary key
// definition and a list of secondary indexes. A schema's ID is assigned
// once at creation and is immutable for the life of a cache.
type Schema struct {
	ID               uint64
	Fields           []FieldDefinition
	PrimaryIndex     []int
	SecondaryIndexes []IndexDefinition
}

// HasPrimaryIndex reports whether this schema enforces primary-key
// uniqueness.
func (s Schema) HasPrimaryIndex() bool {
	return len(s.PrimaryIndex) > 0
}

// FieldIndex returns the position of a field by name, or -1.
func (s Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether two schemas are structurally identical. Used on
// cache reopen: a non-empty schema supplied by the caller must equal the
// stored one.
func (s Schema) Equal(other Schema) bool {
	if s.ID != other.ID || len(s.Fields) != len(other.Fields) || len(s.PrimaryIndex) != len(other.PrimaryIndex) {
		return false
	}
	for i, f := range s.Fields {
		of := other.Fields[i]
		if f.Name != of.Name || f.Type != of.Type || f.Nullable != of.Nullable {
			return false
		}
	}
	for i, p := range s.PrimaryIndex {
		if other.PrimaryIndex[i] != p {
			return false
		}
	}
	if len(s.SecondaryIndexes) != len(other.SecondaryIndexes) {
		return false
	}
	for i, idx := range s.SecondaryIndexes {
		if !idx.Equal(other.SecondaryIndexes[i]) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the schema has no fields, the sentinel for
// "no schema supplied, load whatever is stored" on reopen.
func (s Schema) IsEmpty() bool {
	return len(s.Fields) == 0
}

// SchemaWithIndexes is the read-only projection exposed to callers via
// RoCache.Schema / RwCache.Schema.
type SchemaWithIndexes struct {
	Schema  Schema
	Indexes []IndexDefinition
}
