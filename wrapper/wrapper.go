package wrapper

import (
	"strings"

	"github.com/naylor-b/aserver/errors"
	"github.com/naylor-b/aserver/types"
)

// VarWrapper adapts one variable of a hosted system to the legacy
// property surface. Wrappers are created on demand when a variable is
// first referenced and cached by the owning Component.
type VarWrapper interface {
	// PHXType returns the legacy type string for the wrapped value.
	PHXType() (string, error)

	// PHXAccess returns "sg" for inputs and "g" for outputs.
	PHXAccess() string

	// Get returns the named property in wire form. path is the full
	// external reference, used verbatim in error messages.
	Get(attr, path string) (string, error)

	// Set assigns the named property from its wire form. gzipped marks
	// file payloads that were gzip compressed before base64 encoding.
	Set(attr, path, valstr string, gzipped bool) error

	// GetAsXML returns the <Variable .../> element for setDictionary
	// style transfers.
	GetAsXML(gzipped bool) (string, error)

	// ListProperties returns the property listing lines, one per
	// sub-property, sorted the way the legacy server emits them.
	ListProperties() []string
}

// varBase carries the state shared by every wrapper kind and serves the
// sub-properties common to all of them.
type varBase struct {
	sys     types.System
	name    string // internal variable name
	extPath string // full external reference
	extName string // last segment of extPath
	access  string // "sg" for inputs, "g" for outputs
	io      string // "input" or "output"
	meta    types.Metadata
}

func newVarBase(sys types.System, name, extPath string, isInput bool) (varBase, error) {
	meta, err := sys.Metadata(name)
	if err != nil {
		return varBase{}, err
	}
	b := varBase{
		sys:     sys,
		name:    name,
		extPath: extPath,
		extName: extPath[strings.LastIndex(extPath, ".")+1:],
		access:  "g",
		io:      "output",
		meta:    meta,
	}
	if isInput {
		b.access = "sg"
		b.io = "input"
	}
	return b, nil
}

// getCommon serves the sub-properties every wrapper kind shares. bounded
// selects the numeric-only bound properties; string kinds reject them.
func (b *varBase) getCommon(attr, path string, bounded bool) (string, error) {
	switch attr {
	case "description":
		return EscapeString(b.meta.Description), nil
	case "units":
		return b.meta.Units, nil
	case "format":
		return "null", nil
	case "enumAliases", "enumValues":
		return "", nil
	}
	if bounded {
		switch attr {
		case "hasLowerBound":
			return boolStr(b.meta.HasLower), nil
		case "lowerBound":
			return Float2Str(b.meta.Lower), nil
		case "hasUpperBound":
			return boolStr(b.meta.HasUpper), nil
		case "upperBound":
			return Float2Str(b.meta.Upper), nil
		}
	}
	return "", errors.NoSuchProperty(path)
}

func (b *varBase) PHXAccess() string {
	return b.access
}

func (b *varBase) xmlDesc() string {
	return quoteAttr(b.meta.Description)
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// xmlEscape escapes character data for XML output.
func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// quoteAttr returns s as a double-quoted XML attribute value.
func quoteAttr(s string) string {
	return `"` + strings.ReplaceAll(xmlEscape(s), `"`, "&quot;") + `"`
}

// NewVarWrapper selects the wrapper for the variable's current value.
// The value set is closed; anything else is unsupported.
func NewVarWrapper(sys types.System, name, extPath string, isInput bool) (VarWrapper, error) {
	val, err := sys.Get(name)
	if err != nil {
		return nil, err
	}
	base, err := newVarBase(sys, name, extPath, isInput)
	if err != nil {
		return nil, err
	}
	switch v := val.(type) {
	case bool:
		return &BoolWrapper{varBase: base}, nil
	case int64:
		return &IntWrapper{varBase: base}, nil
	case float64:
		return &FloatWrapper{varBase: base}, nil
	case string:
		return &StrWrapper{varBase: base}, nil
	case *types.Array:
		return &ArrayWrapper{arrayBase{varBase: base, kind: v.Kind, isArray: true}}, nil
	case *types.List:
		return &ListWrapper{arrayBase{varBase: base, kind: v.Kind}}, nil
	case *types.FileRef:
		return &FileWrapper{varBase: base}, nil
	default:
		return nil, errors.Internalf("unsupported type for %s.%s: %T",
			sys.Pathname(), name, val)
	}
}
