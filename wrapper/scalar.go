package wrapper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/naylor-b/aserver/errors"
)

// BoolWrapper provides the PHXBoolean surface for a bool variable.
type BoolWrapper struct {
	varBase
}

var _ VarWrapper = (*BoolWrapper)(nil)

func (w *BoolWrapper) PHXType() (string, error) {
	return "com.phoenix_int.aserver.types.PHXBoolean", nil
}

func (w *BoolWrapper) Get(attr, path string) (string, error) {
	switch attr {
	case w.name, "value", "valueStr":
		val, err := w.sys.Get(w.name)
		if err != nil {
			return "", errors.Internal(err)
		}
		return boolStr(val.(bool)), nil
	default:
		return w.getCommon(attr, path, false)
	}
}

func (w *BoolWrapper) Set(attr, path, valstr string, gzipped bool) error {
	valstr = strings.Trim(valstr, `"`)
	switch attr {
	case w.name, "value":
		switch valstr {
		case "true":
			return w.sys.Set(w.name, true)
		case "false":
			return w.sys.Set(w.name, false)
		default:
			return errors.Internalf("invalid boolean value %q for <%s>", valstr, path)
		}
	case "valueStr", "description":
		return errors.CannotSet(path)
	default:
		return errors.NoSuchProperty(path)
	}
}

func (w *BoolWrapper) GetAsXML(gzipped bool) (string, error) {
	val, err := w.Get("value", w.extPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<Variable name="%s" type="boolean" io="%s" format="" description=%s>%s</Variable>`,
		w.extPath, w.io, w.xmlDesc(), val), nil
}

func (w *BoolWrapper) ListProperties() []string {
	return []string{
		"description (type=java.lang.String) (access=g)",
		fmt.Sprintf("value (type=boolean) (access=%s)", w.access),
		"valueStr (type=boolean) (access=g)",
	}
}

// IntWrapper provides the PHXLong surface for an int64 variable.
type IntWrapper struct {
	varBase
}

var _ VarWrapper = (*IntWrapper)(nil)

func (w *IntWrapper) PHXType() (string, error) {
	return "com.phoenix_int.aserver.types.PHXLong", nil
}

func (w *IntWrapper) Get(attr, path string) (string, error) {
	switch attr {
	case w.name, "value", "valueStr":
		val, err := w.sys.Get(w.name)
		if err != nil {
			return "", errors.Internal(err)
		}
		return strconv.FormatInt(val.(int64), 10), nil
	default:
		return w.getCommon(attr, path, true)
	}
}

func (w *IntWrapper) Set(attr, path, valstr string, gzipped bool) error {
	valstr = strings.Trim(valstr, `"`)
	switch attr {
	case w.name, "value":
		val, err := strconv.ParseInt(valstr, 10, 64)
		if err != nil {
			return errors.Internal(err)
		}
		return w.sys.Set(w.name, val)
	case "valueStr", "description", "enumAliases", "enumValues",
		"hasLowerBound", "lowerBound", "hasUpperBound", "upperBound", "units":
		return errors.CannotSet(path)
	default:
		return errors.NoSuchProperty(path)
	}
}

func (w *IntWrapper) GetAsXML(gzipped bool) (string, error) {
	val, err := w.Get("value", w.extPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<Variable name="%s" type="long" io="%s" format="" description=%s>%s</Variable>`,
		w.extName, w.io, w.xmlDesc(), val), nil
}

func (w *IntWrapper) ListProperties() []string {
	return []string{
		"description (type=java.lang.String) (access=g)",
		"enumAliases (type=java.lang.String[0]) (access=g)",
		"enumValues (type=long[0]) (access=g)",
		"hasLowerBound (type=boolean) (access=g)",
		"hasUpperBound (type=boolean) (access=g)",
		"lowerBound (type=long) (access=g)",
		"units (type=java.lang.String) (access=g)",
		"upperBound (type=long) (access=g)",
		fmt.Sprintf("value (type=long) (access=%s)", w.access),
		"valueStr (type=java.lang.String) (access=g)",
	}
}

// FloatWrapper provides the PHXDouble surface for a float64 variable.
type FloatWrapper struct {
	varBase
}

var _ VarWrapper = (*FloatWrapper)(nil)

func (w *FloatWrapper) PHXType() (string, error) {
	return "com.phoenix_int.aserver.types.PHXDouble", nil
}

func (w *FloatWrapper) Get(attr, path string) (string, error) {
	switch attr {
	case "value", "valueStr":
		val, err := w.sys.Get(w.name)
		if err != nil {
			return "", errors.Internal(err)
		}
		return Float2Str(val.(float64)), nil
	default:
		return w.getCommon(attr, path, true)
	}
}

func (w *FloatWrapper) Set(attr, path, valstr string, gzipped bool) error {
	valstr = strings.Trim(valstr, `"`)
	switch attr {
	case "value":
		val, err := strconv.ParseFloat(valstr, 64)
		if err != nil {
			return errors.Internal(err)
		}
		return w.sys.Set(w.name, val)
	case "valueStr", "description", "enumAliases", "enumValues", "format",
		"hasLowerBound", "lowerBound", "hasUpperBound", "upperBound", "units":
		return errors.CannotSet(path)
	default:
		return errors.NoSuchProperty(path)
	}
}

func (w *FloatWrapper) GetAsXML(gzipped bool) (string, error) {
	val, err := w.Get("value", w.extPath)
	if err != nil {
		return "", err
	}
	units, err := w.Get("units", w.extPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<Variable name="%s" type="double" io="%s" format="" description=%s units="%s">%s</Variable>`,
		w.extName, w.io, w.xmlDesc(), units, val), nil
}

func (w *FloatWrapper) ListProperties() []string {
	return []string{
		"description (type=java.lang.String) (access=g)",
		"enumAliases (type=java.lang.String[0]) (access=g)",
		"enumValues (type=double[0]) (access=g)",
		"format (type=java.lang.String) (access=g)",
		"hasLowerBound (type=boolean) (access=g)",
		"hasUpperBound (type=boolean) (access=g)",
		"lowerBound (type=double) (access=g)",
		"units (type=java.lang.String) (access=g)",
		"upperBound (type=double) (access=g)",
		fmt.Sprintf("value (type=double) (access=%s)", w.access),
		"valueStr (type=java.lang.String) (access=g)",
	}
}

// StrWrapper provides the PHXString surface for a string variable.
type StrWrapper struct {
	varBase
}

var _ VarWrapper = (*StrWrapper)(nil)

func (w *StrWrapper) PHXType() (string, error) {
	return "com.phoenix_int.aserver.types.PHXString", nil
}

func (w *StrWrapper) Get(attr, path string) (string, error) {
	switch attr {
	case w.name, "value", "valueStr":
		val, err := w.sys.Get(w.name)
		if err != nil {
			return "", errors.Internal(err)
		}
		return EscapeString(val.(string)), nil
	case "enumValues", "enumAliases":
		return "", nil
	default:
		return w.getCommon(attr, path, false)
	}
}

func (w *StrWrapper) Set(attr, path, valstr string, gzipped bool) error {
	switch attr {
	case w.name, "value":
		return w.sys.Set(w.name, strings.Trim(UnescapeString(valstr), `"`))
	case "valueStr", "description", "enumAliases", "enumValues":
		return errors.CannotSet(path)
	default:
		return errors.NoSuchProperty(path)
	}
}

func (w *StrWrapper) GetAsXML(gzipped bool) (string, error) {
	val, err := w.Get("value", w.extPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<Variable name="%s" type="string" io="%s" format="" description=%s>%s</Variable>`,
		w.extPath, w.io, w.xmlDesc(), xmlEscape(val)), nil
}

func (w *StrWrapper) ListProperties() []string {
	return []string{
		"description (type=java.lang.String) (access=g)",
		"enumAliases (type=java.lang.String[0]) (access=g)",
		"enumValues (type=java.lang.String[0]) (access=g)",
		fmt.Sprintf("value (type=java.lang.String) (access=%s)", w.access),
		"valueStr (type=java.lang.String) (access=g)",
	}
}
