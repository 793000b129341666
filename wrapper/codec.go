package wrapper

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/naylor-b/aserver/types"
)

// Float2Str returns the canonical wire form of a float: 16 significant
// decimal digits, enough for exact float64 round-trip.
func Float2Str(val float64) string {
	return fmt.Sprintf("%.16g", val)
}

// EscapeString applies C-style backslash escaping to control and
// non-printable bytes for the wire.
func EscapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(&b, `\x%02x`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// UnescapeString reverses EscapeString. Unrecognized escapes pass through
// unchanged, matching the tolerant legacy decoder.
func UnescapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '0':
			b.WriteByte(0)
		case '\\':
			b.WriteByte('\\')
		case '\'':
			b.WriteByte('\'')
		case '"':
			b.WriteByte('"')
		case 'x':
			if i+2 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					b.WriteByte(byte(v))
					i += 2
					continue
				}
			}
			b.WriteString(`\x`)
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// EncodeArray renders an array in wire form: "bounds[d0, d1] {v0, v1, ...}"
// in row-major flat order for rank > 1, or a plain comma-joined list for
// rank 1. String elements are double-quoted.
func EncodeArray(a *types.Array) string {
	elems := encodeElems(a.Kind, a.F, a.I, a.S)
	if len(a.Dims) > 1 {
		dims := make([]string, len(a.Dims))
		for i, d := range a.Dims {
			dims[i] = strconv.Itoa(d)
		}
		return fmt.Sprintf("bounds[%s] {%s}",
			strings.Join(dims, ", "), strings.Join(elems, ", "))
	}
	return strings.Join(elems, ", ")
}

// EncodeList renders a homogeneous list in wire form (always rank 1,
// never a bounds prefix).
func EncodeList(l *types.List) string {
	return strings.Join(encodeElems(l.Kind, l.F, l.I, l.S), ", ")
}

func encodeElems(kind types.ElemKind, f []float64, i []int64, s []string) []string {
	var elems []string
	switch kind {
	case types.Float:
		for _, v := range f {
			elems = append(elems, Float2Str(v))
		}
	case types.Int:
		for _, v := range i {
			elems = append(elems, strconv.FormatInt(v, 10))
		}
	default:
		for _, v := range s {
			elems = append(elems, `"`+v+`"`)
		}
	}
	return elems
}

// DecodeArray parses the wire form of an array. A "bounds[...]" prefix
// declares the shape; without one the result is rank 1. The element count
// must exactly equal the product of the declared bounds.
func DecodeArray(valstr string, kind types.ElemKind) (*types.Array, error) {
	valstr = strings.TrimSpace(valstr)
	arr := &types.Array{Kind: kind}

	data := valstr
	if strings.HasPrefix(valstr, "bounds[") {
		dimsStr, rest, found := strings.Cut(valstr[len("bounds["):], "]")
		if !found {
			return nil, fmt.Errorf("malformed array value %q", valstr)
		}
		for _, d := range strings.Split(dimsStr, ",") {
			dim, err := strconv.Atoi(strings.Trim(d, ` "`))
			if err != nil {
				return nil, fmt.Errorf("malformed array bounds %q", dimsStr)
			}
			arr.Dims = append(arr.Dims, dim)
		}
		_, rest, found = strings.Cut(rest, "{")
		if !found {
			return nil, fmt.Errorf("malformed array value %q", valstr)
		}
		data, _, found = strings.Cut(rest, "}")
		if !found {
			return nil, fmt.Errorf("malformed array value %q", valstr)
		}
	}

	if err := decodeElems(arr, data); err != nil {
		return nil, err
	}
	if arr.Dims == nil {
		arr.Dims = []int{arr.Len()}
	} else if arr.Len() != arr.Size() {
		return nil, fmt.Errorf("array value has %d elements, bounds %v require %d",
			arr.Len(), arr.Dims, arr.Size())
	}
	return arr, nil
}

// DecodeList parses the wire form of a homogeneous list. An empty value
// string is an empty list.
func DecodeList(valstr string, kind types.ElemKind) (*types.List, error) {
	arr := &types.Array{Kind: kind}
	if strings.TrimSpace(valstr) != "" {
		if err := decodeElems(arr, valstr); err != nil {
			return nil, err
		}
	}
	return &types.List{Kind: kind, F: arr.F, I: arr.I, S: arr.S}, nil
}

func decodeElems(arr *types.Array, data string) error {
	for _, raw := range strings.Split(data, ",") {
		elem := strings.Trim(raw, ` "`)
		switch arr.Kind {
		case types.Float:
			v, err := strconv.ParseFloat(elem, 64)
			if err != nil {
				return fmt.Errorf("invalid float element %q", elem)
			}
			arr.F = append(arr.F, v)
		case types.Int:
			v, err := strconv.ParseInt(elem, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int element %q", elem)
			}
			arr.I = append(arr.I, v)
		default:
			arr.S = append(arr.S, elem)
		}
	}
	return nil
}

// EncodeFileData renders file contents for XML transfer. Binary payloads
// are base64 encoded as-is; when gzipData was requested, text payloads are
// gzip compressed first and the caller marks the variable gzipped="true".
// The base64 output is chunked into 76-byte lines.
func EncodeFileData(data []byte, compress bool) (encoded string, gzipped bool, err error) {
	if compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err = gz.Write(data); err != nil {
			return "", false, err
		}
		if err = gz.Close(); err != nil {
			return "", false, err
		}
		data = buf.Bytes()
		gzipped = true
	}
	return chunk76(base64.StdEncoding.EncodeToString(data)), gzipped, nil
}

// DecodeFileData reverses EncodeFileData: tolerant base64 decode, then
// gunzip when the payload was marked gzipped.
func DecodeFileData(valstr string, gzipped bool) ([]byte, error) {
	data := DecodeBase64(valstr)
	if !gzipped {
		return data, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(gz); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecodeBase64 decodes base64, tolerating incorrect padding by truncating
// trailing bytes until the input decodes. Clients are known to send
// misaligned payloads.
func DecodeBase64(s string) []byte {
	s = strings.ReplaceAll(s, "\n", "")
	for len(s) > 0 {
		data, err := base64.StdEncoding.DecodeString(s)
		if err == nil {
			return data
		}
		s = s[:len(s)-1]
	}
	return nil
}

// chunk76 splits base64 output into 76-byte lines separated by '\n', with
// a trailing newline, as the legacy encoder does.
func chunk76(s string) string {
	var b strings.Builder
	for len(s) > 76 {
		b.WriteString(s[:76])
		b.WriteByte('\n')
		s = s[76:]
	}
	b.WriteString(s)
	b.WriteByte('\n')
	return b.String()
}
