package document

// Ref is the identity key of an entity: its type plus its persisted ID.
// An empty ID means the entity has not been persisted yet. Refs are
// comparable and used as map keys by the release pool, the worklist, and
// the reference table.
type Ref struct {
	Type string
	ID   string
}

// NewRef builds a Ref from a type name and an ID.
func NewRef(typeName, id string) Ref {
	return Ref{Type: typeName, ID: id}
}

// Persisted reports whether the Ref identifies an existing record.
func (r Ref) Persisted() bool { return r.ID != "" }

// String renders the Ref as "Type/id", with "new" for unpersisted entities.
func (r Ref) String() string {
	if r.ID == "" {
		return r.Type + "/new"
	}
	return r.Type + "/" + r.ID
}
