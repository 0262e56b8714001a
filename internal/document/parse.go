package document

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/graftkit/graft/internal/schema"
)

// Wire keys recognized on every node. Everything else must be a declared
// attribute or association of the node's type.
const (
	keyType    = "_type"
	keyID      = "_id"
	keyNew     = "_new"
	keyVersion = "_version"
	keyRef     = "_ref"

	// typeUpdate tags a functional collection update in place of a full
	// replacement list.
	typeUpdate = "_update"

	keyActions = "actions"
	keyValues  = "values"
	keyBefore  = "before"
	keyAfter   = "after"
)

// Parse converts raw roots and references, as decoded by encoding/json,
// into typed UpdateIntent trees, validating node shape against the registry.
//
// A (type, id) pair may appear at most once across roots and references;
// a second occurrence is a DUPLICATE_NODES error.
func Parse(reg *schema.Registry, roots []any, references map[string]any) (*Document, error) {
	p := &parser{reg: reg}
	doc := &Document{References: make(map[string]*UpdateIntent, len(references))}
	seen := make(map[Ref]string)

	for i, raw := range roots {
		path := fmt.Sprintf("roots[%d]", i)
		intent, err := p.parseNode(raw, path)
		if err != nil {
			return nil, err
		}
		if err := noteIdentity(seen, intent, path); err != nil {
			return nil, err
		}
		doc.Roots = append(doc.Roots, intent)
	}

	// Deterministic order for error reporting.
	names := make([]string, 0, len(references))
	for name := range references {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := fmt.Sprintf("references[%s]", name)
		intent, err := p.parseNode(references[name], path)
		if err != nil {
			return nil, err
		}
		if err := noteIdentity(seen, intent, path); err != nil {
			return nil, err
		}
		doc.References[name] = intent
	}

	return doc, nil
}

func noteIdentity(seen map[Ref]string, intent *UpdateIntent, path string) error {
	if intent.ID == "" {
		return nil
	}
	ref := intent.Ref()
	if prev, dup := seen[ref]; dup {
		return newError(ErrCodeDuplicateNodes, path, "%s already submitted at %s", ref, prev)
	}
	seen[ref] = path
	return nil
}

type parser struct {
	reg *schema.Registry
}

func (p *parser) parseNode(raw any, path string) (*UpdateIntent, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, newError(ErrCodeInvalidSyntax, path, "node must be an object, got %T", raw)
	}

	typeTag, ok := m[keyType]
	if !ok {
		return nil, newError(ErrCodeInvalidSyntax, path, "node is missing a %s tag", keyType)
	}
	typeName, ok := typeTag.(string)
	if !ok {
		return nil, newError(ErrCodeInvalidSyntax, path, "%s must be a string, got %T", keyType, typeTag)
	}
	et, ok := p.reg.Type(typeName)
	if !ok {
		return nil, newError(ErrCodeUnknownView, path, "unknown type %q", typeName)
	}

	intent := &UpdateIntent{
		Type:   typeName,
		Attrs:  map[string]Value{},
		Assocs: map[string]*AssocIntent{},
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := m[key]
		switch key {
		case keyType:
			// already consumed

		case keyID:
			id, err := parseID(raw, path)
			if err != nil {
				return nil, err
			}
			intent.ID = id

		case keyNew:
			b, ok := raw.(bool)
			if !ok {
				return nil, newError(ErrCodeInvalidSyntax, path, "%s must be a boolean, got %T", keyNew, raw)
			}
			intent.New = b

		case keyVersion:
			v, err := parseIntWire(raw)
			if err != nil {
				return nil, newError(ErrCodeInvalidSyntax, path, "%s: %v", keyVersion, err)
			}
			intent.Version = &v

		default:
			if attr, ok := et.Attribute(key); ok {
				val, err := FromGo(raw)
				if err != nil {
					return nil, newError(ErrCodeInvalidSyntax, path, "attribute %q: %v", key, err)
				}
				if !Matches(val, attr.Kind) {
					return nil, newError(ErrCodeInvalidSyntax, path,
						"attribute %q: %s does not satisfy kind %s", key, Format(val), attr.Kind)
				}
				intent.Attrs[key] = val
				continue
			}
			if assoc, ok := et.Association(key); ok {
				ai, err := p.parseAssoc(assoc, raw, path+"."+key)
				if err != nil {
					return nil, err
				}
				intent.Assocs[key] = ai
				continue
			}
			return nil, newError(ErrCodeUnknownAttribute, path, "type %q has no attribute or association %q", typeName, key)
		}
	}

	if intent.New && intent.ID != "" {
		return nil, newError(ErrCodeInvalidSyntax, path, "node cannot carry both %s and %s", keyNew, keyID)
	}

	return intent, nil
}

func (p *parser) parseAssoc(assoc *schema.Association, raw any, path string) (*AssocIntent, error) {
	switch val := raw.(type) {
	case nil:
		return &AssocIntent{Kind: AssocClear}, nil

	case map[string]any:
		if isUpdateTag(val) {
			if !assoc.Collection {
				return nil, newError(ErrCodeUnknownAssociation, path,
					"functional update submitted for singular association %q", assoc.Name)
			}
			return p.parseFunctional(assoc, val, path)
		}
		if assoc.Collection {
			return nil, newError(ErrCodeUnknownAssociation, path,
				"collection association %q expects an array", assoc.Name)
		}
		node, err := p.parseMember(assoc, val, path)
		if err != nil {
			return nil, err
		}
		return &AssocIntent{Kind: AssocSingle, Single: node}, nil

	case []any:
		if !assoc.Collection {
			return nil, newError(ErrCodeUnknownAssociation, path,
				"singular association %q expects an object", assoc.Name)
		}
		// A one-element array holding an _update hash is the functional
		// form; everything else is a full replacement list.
		if len(val) == 1 {
			if m, ok := val[0].(map[string]any); ok && isUpdateTag(m) {
				return p.parseFunctional(assoc, m, path)
			}
		}
		nodes := make([]*Node, 0, len(val))
		for i, elem := range val {
			node, err := p.parseMemberRaw(assoc, elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
		return &AssocIntent{Kind: AssocList, List: nodes}, nil

	default:
		return nil, newError(ErrCodeInvalidSyntax, path, "association value must be null, an object, or an array, got %T", raw)
	}
}

func (p *parser) parseMemberRaw(assoc *schema.Association, raw any, path string) (*Node, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, newError(ErrCodeInvalidSyntax, path, "association member must be an object, got %T", raw)
	}
	return p.parseMember(assoc, m, path)
}

// parseMember parses one association target: a reference marker or an
// inline node of the association's target type. Indirect collections only
// accept reference markers; their shared entities live in the references
// map, never inline.
func (p *parser) parseMember(assoc *schema.Association, m map[string]any, path string) (*Node, error) {
	if name, ok := refMarker(m); ok {
		return &Node{RefName: name}, nil
	}
	if _, hasRef := m[keyRef]; hasRef {
		return nil, newError(ErrCodeInvalidSyntax, path, "%s marker must be the only key and name a string", keyRef)
	}
	if assoc.Indirect() {
		return nil, newError(ErrCodeInvalidSyntax, path,
			"members of indirect association %q must be %s markers", assoc.Name, keyRef)
	}

	intent, err := p.parseNode(m, path)
	if err != nil {
		return nil, err
	}
	if intent.Type != assoc.Target {
		return nil, newError(ErrCodeUnknownAssociation, path,
			"association %q expects type %q, got %q", assoc.Name, assoc.Target, intent.Type)
	}
	return &Node{Intent: intent}, nil
}

func (p *parser) parseFunctional(assoc *schema.Association, m map[string]any, path string) (*AssocIntent, error) {
	for key := range m {
		if key != keyType && key != keyActions {
			return nil, newError(ErrCodeInvalidSyntax, path, "unexpected key %q in %s hash", key, typeUpdate)
		}
	}
	rawActions, ok := m[keyActions].([]any)
	if !ok {
		return nil, newError(ErrCodeInvalidSyntax, path, "%s hash requires an actions array", typeUpdate)
	}

	actions := make([]Action, 0, len(rawActions))
	for i, rawAction := range rawActions {
		apath := fmt.Sprintf("%s.actions[%d]", path, i)
		action, err := p.parseAction(assoc, rawAction, apath)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return &AssocIntent{Kind: AssocFunctional, Actions: actions}, nil
}

func (p *parser) parseAction(assoc *schema.Association, raw any, path string) (Action, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Action{}, newError(ErrCodeInvalidSyntax, path, "action must be an object, got %T", raw)
	}
	kindTag, _ := m[keyType].(string)
	kind := ActionKind(kindTag)
	if kind != ActionAppend && kind != ActionRemove && kind != ActionUpdate {
		return Action{}, newError(ErrCodeInvalidSyntax, path, "action %s must be append, remove, or update", keyType)
	}

	action := Action{Kind: kind, Position: AnchorEnd}

	for key, val := range m {
		switch key {
		case keyType, keyValues:
			// handled below
		case keyBefore, keyAfter:
			if kind != ActionAppend {
				return Action{}, newError(ErrCodeInvalidSyntax, path, "%s anchor is only valid on append", key)
			}
			if action.AnchorID != "" {
				return Action{}, newError(ErrCodeInvalidSyntax, path, "append cannot carry both before and after anchors")
			}
			id, err := parseID(val, path)
			if err != nil {
				return Action{}, err
			}
			action.AnchorID = id
			if key == keyBefore {
				action.Position = AnchorBefore
			} else {
				action.Position = AnchorAfter
			}
		default:
			return Action{}, newError(ErrCodeInvalidSyntax, path, "unexpected key %q in %s action", key, kind)
		}
	}

	rawValues, ok := m[keyValues].([]any)
	if !ok {
		return Action{}, newError(ErrCodeInvalidSyntax, path, "%s action requires a values array", kind)
	}
	for i, rawValue := range rawValues {
		vpath := fmt.Sprintf("%s.values[%d]", path, i)
		node, err := p.parseMemberRaw(assoc, rawValue, vpath)
		if err != nil {
			return Action{}, err
		}
		// Remove and update target existing members, so their values must
		// carry an identity to key on.
		if kind != ActionAppend && node.Intent != nil && node.Intent.ID == "" {
			return Action{}, newError(ErrCodeInvalidSyntax, vpath, "%s values must carry an id", kind)
		}
		action.Values = append(action.Values, node)
	}
	return action, nil
}

// refMarker reports whether m is a {_ref: name} pair and returns the name.
func refMarker(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	name, ok := m[keyRef].(string)
	return name, ok && name != ""
}

func isUpdateTag(m map[string]any) bool {
	tag, ok := m[keyType].(string)
	return ok && tag == typeUpdate
}

func parseID(raw any, path string) (string, error) {
	switch id := raw.(type) {
	case string:
		if id == "" {
			return "", newError(ErrCodeInvalidSyntax, path, "id must not be empty")
		}
		return id, nil
	case float64:
		if id != float64(int64(id)) {
			return "", newError(ErrCodeInvalidSyntax, path, "id must be a string or integer, got %v", id)
		}
		return strconv.FormatInt(int64(id), 10), nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	default:
		return "", newError(ErrCodeInvalidSyntax, path, "id must be a string or integer, got %T", raw)
	}
}

func parseIntWire(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("must be an integer, got %v", v)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("must be an integer, got %T", raw)
	}
}
