package schema

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Compile parses a CUE value into a validated Registry.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
//
// Expected shape:
//
//	types: {
//		Post: {
//			attributes: {
//				title: "string"
//				rank:  {kind: "int", read_only: true}
//			}
//			associations: {
//				author: {target: "User", direction: "owning"}
//				comments: {
//					target:     "Comment"
//					direction:  "owned"
//					collection: true
//					inverse:    "post"
//					order:      "rank"
//					on_release: "delete"
//				}
//			}
//		}
//	}
func Compile(v cue.Value) (*Registry, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	typesVal := v.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return nil, &CompileError{
			Field:   "types",
			Message: "schema must declare a types struct",
			Pos:     v.Pos(),
		}
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var types []*EntityType
	for iter.Next() {
		t, err := compileType(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}

	return NewRegistry(types...)
}

// CompileString compiles an inline CUE schema source.
func CompileString(src string) (*Registry, error) {
	ctx := cuecontext.New()
	return Compile(ctx.CompileString(src))
}

// CompileFile reads and compiles a CUE schema file.
func CompileFile(path string) (*Registry, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	ctx := cuecontext.New()
	return Compile(ctx.CompileString(string(src), cue.Filename(path)))
}

func compileType(name string, v cue.Value) (*EntityType, error) {
	t := &EntityType{
		Name:         name,
		Attributes:   map[string]*Attribute{},
		Associations: map[string]*Association{},
	}

	attrsVal := v.LookupPath(cue.ParsePath("attributes"))
	if attrsVal.Exists() {
		iter, err := attrsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			attr, err := compileAttribute(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			t.Attributes[attr.Name] = attr
		}
	}

	assocsVal := v.LookupPath(cue.ParsePath("associations"))
	if assocsVal.Exists() {
		iter, err := assocsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			assoc, err := compileAssociation(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			t.Associations[assoc.Name] = assoc
		}
	}

	return t, nil
}

// compileAttribute accepts either a bare kind string ("int") or a struct
// with kind/read_only/create_only fields.
func compileAttribute(name string, v cue.Value) (*Attribute, error) {
	attr := &Attribute{Name: name}

	if kind, err := v.String(); err == nil {
		k, ok := parseKind(kind)
		if !ok {
			return nil, &CompileError{
				Field:   fmt.Sprintf("attributes.%s", name),
				Message: fmt.Sprintf("unknown attribute kind %q", kind),
				Pos:     v.Pos(),
			}
		}
		attr.Kind = k
		return attr, nil
	}

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return nil, &CompileError{
			Field:   fmt.Sprintf("attributes.%s", name),
			Message: "attribute must be a kind string or a struct with a kind field",
			Pos:     v.Pos(),
		}
	}
	kind, err := kindVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	k, ok := parseKind(kind)
	if !ok {
		return nil, &CompileError{
			Field:   fmt.Sprintf("attributes.%s.kind", name),
			Message: fmt.Sprintf("unknown attribute kind %q", kind),
			Pos:     kindVal.Pos(),
		}
	}
	attr.Kind = k

	if attr.ReadOnly, err = lookupBool(v, "read_only"); err != nil {
		return nil, err
	}
	if attr.CreateOnly, err = lookupBool(v, "create_only"); err != nil {
		return nil, err
	}
	return attr, nil
}

func compileAssociation(name string, v cue.Value) (*Association, error) {
	assoc := &Association{Name: name, OnRelease: CascadeDetach}

	var err error
	if assoc.Target, err = requireString(v, "target", name); err != nil {
		return nil, err
	}

	dir, err := requireString(v, "direction", name)
	if err != nil {
		return nil, err
	}
	assoc.Direction = Direction(dir)

	if assoc.Collection, err = lookupBool(v, "collection"); err != nil {
		return nil, err
	}
	if assoc.Inverse, err = lookupString(v, "inverse"); err != nil {
		return nil, err
	}
	if assoc.Through, err = lookupString(v, "through"); err != nil {
		return nil, err
	}
	if assoc.ThroughTarget, err = lookupString(v, "through_target"); err != nil {
		return nil, err
	}
	if assoc.OrderAttr, err = lookupString(v, "order"); err != nil {
		return nil, err
	}

	if policy, err := lookupString(v, "on_release"); err != nil {
		return nil, err
	} else if policy != "" {
		assoc.OnRelease = Cascade(policy)
	}

	return assoc, nil
}

func parseKind(s string) (AttrKind, bool) {
	switch AttrKind(s) {
	case KindString, KindInt, KindFloat, KindBool, KindAny:
		return AttrKind(s), true
	}
	return "", false
}

func requireString(v cue.Value, field, assoc string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   fmt.Sprintf("associations.%s.%s", assoc, field),
			Message: fmt.Sprintf("%s is required", field),
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func lookupString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func lookupBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// CompileError reports a schema compilation failure with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
