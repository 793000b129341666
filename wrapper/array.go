package wrapper

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/naylor-b/aserver/errors"
	"github.com/naylor-b/aserver/types"
)

// arrayBase serves the shared double[]/long[]/String[] surface for both
// N-dimensional arrays and homogeneous lists.
type arrayBase struct {
	varBase
	kind    types.ElemKind
	isArray bool
}

// ArrayWrapper provides the array surface for an N-dimensional Array.
type ArrayWrapper struct {
	arrayBase
}

// ListWrapper provides the rank-1 array surface for a homogeneous List.
// Lists never render a bounds prefix and never lock resizing.
type ListWrapper struct {
	arrayBase
}

var (
	_ VarWrapper = (*ArrayWrapper)(nil)
	_ VarWrapper = (*ListWrapper)(nil)
)

// typstr is the short element type name used in XML and dimensions.
func (w *arrayBase) typstr() string {
	return w.kind.String()
}

// javaType is the element type name used in property listings.
func (w *arrayBase) javaType() string {
	if w.kind == types.String {
		return "java.lang.String"
	}
	return w.kind.String()
}

// value fetches the wrapped value and normalizes it to element slices
// plus a shape. Lists report a rank-1 shape.
func (w *arrayBase) value() (*types.Array, error) {
	val, err := w.sys.Get(w.name)
	if err != nil {
		return nil, errors.Internal(err)
	}
	switch v := val.(type) {
	case *types.Array:
		return v, nil
	case *types.List:
		return &types.Array{
			Dims: []int{v.Len()},
			Kind: v.Kind,
			F:    v.F, I: v.I, S: v.S,
		}, nil
	default:
		return nil, errors.Internalf("unexpected type for %s.%s: %T",
			w.sys.Pathname(), w.name, val)
	}
}

func (w *arrayBase) PHXType() (string, error) {
	arr, err := w.value()
	if err != nil {
		return "", err
	}
	var dims strings.Builder
	if w.isArray {
		for _, d := range arr.Dims {
			fmt.Fprintf(&dims, "[%d]", d)
		}
	} else {
		fmt.Fprintf(&dims, "[%d]", arr.Len())
	}
	return w.javaType() + dims.String(), nil
}

func (w *arrayBase) Get(attr, path string) (string, error) {
	switch attr {
	case w.name, "value":
		arr, err := w.value()
		if err != nil {
			return "", err
		}
		var valstr string
		if w.isArray {
			valstr = EncodeArray(arr)
		} else {
			valstr = EncodeList(&types.List{Kind: arr.Kind, F: arr.F, I: arr.I, S: arr.S})
		}
		if w.kind == types.String {
			valstr = EscapeString(valstr)
		}
		return valstr, nil
	case "componentType":
		return w.typstr(), nil
	case "dimensions":
		arr, err := w.value()
		if err != nil {
			return "", err
		}
		dims := make([]string, len(arr.Dims))
		for i, d := range arr.Dims {
			dims[i] = fmt.Sprintf("%q", strconv.Itoa(d))
		}
		return strings.Join(dims, ", "), nil
	case "enumAliases", "enumValues":
		return "", nil
	case "first":
		arr, err := w.value()
		if err != nil {
			return "", err
		}
		if arr.Len() == 0 {
			return "", nil
		}
		switch w.kind {
		case types.Float:
			return Float2Str(arr.F[0]), nil
		case types.Int:
			return strconv.FormatInt(arr.I[0], 10), nil
		default:
			return EscapeString(arr.S[0]), nil
		}
	case "length":
		arr, err := w.value()
		if err != nil {
			return "", err
		}
		if len(arr.Dims) > 0 {
			return strconv.Itoa(arr.Dims[0]), nil
		}
		return "0", nil
	case "lockResize":
		return boolStr(w.isArray), nil
	case "numDimensions":
		if !w.isArray {
			return "1", nil
		}
		arr, err := w.value()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(len(arr.Dims)), nil
	default:
		return w.getCommon(attr, path, w.kind != types.String)
	}
}

func (w *arrayBase) Set(attr, path, valstr string, gzipped bool) error {
	switch attr {
	case w.name, "value":
		if w.kind == types.String {
			valstr = UnescapeString(valstr)
		}
		if w.isArray {
			arr, err := DecodeArray(valstr, w.kind)
			if err != nil {
				return errors.Internal(err)
			}
			return w.sys.Set(w.name, arr)
		}
		lst, err := DecodeList(valstr, w.kind)
		if err != nil {
			return errors.Internal(err)
		}
		return w.sys.Set(w.name, lst)
	case "componentType", "description", "dimensions",
		"enumAliases", "enumValues", "first", "format",
		"hasLowerBound", "lowerBound", "hasUpperBound", "upperBound",
		"length", "lockResize", "numDimensions", "units":
		return errors.CannotSet(path)
	default:
		return errors.NoSuchProperty(path)
	}
}

func (w *arrayBase) GetAsXML(gzipped bool) (string, error) {
	val, err := w.Get("value", w.extPath)
	if err != nil {
		return "", err
	}
	units, err := w.Get("units", w.extPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<Variable name="%s" type="%s[]" io="%s" format="" description=%s units="%s">%s</Variable>`,
		w.extPath, w.typstr(), w.io, w.xmlDesc(), units, xmlEscape(val)), nil
}

func (w *arrayBase) ListProperties() []string {
	typstr := w.javaType()
	lines := []string{
		"componentType (type=java.lang.Class) (access=g)",
		"description (type=java.lang.String) (access=g)",
		"dimensions (type=int[1]) (access=g)",
		"enumAliases (type=java.lang.String[0]) (access=g)",
		fmt.Sprintf("enumValues (type=%s[0]) (access=g)", typstr),
		"first (type=java.lang.Object) (access=g)",
		"length (type=int) (access=g)",
		"lockResize (type=boolean) (access=g)",
		"numDimensions (type=int) (access=g)",
		"units (type=java.lang.String) (access=g)",
	}
	if w.kind != types.String {
		lines = append(lines,
			"format (type=java.lang.String) (access=g)",
			"hasLowerBound (type=boolean) (access=g)",
			"hasUpperBound (type=boolean) (access=g)",
			fmt.Sprintf("lowerBound (type=%s) (access=g)", typstr),
			fmt.Sprintf("upperBound (type=%s) (access=g)", typstr))
	}
	sort.Strings(lines)
	return lines
}
