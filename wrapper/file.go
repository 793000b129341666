package wrapper

import (
	"encoding/base64"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/naylor-b/aserver/errors"
	"github.com/naylor-b/aserver/types"
)

// FileWrapper provides the PHXRawFile surface for a file variable. Text
// contents travel with C-style escaping, binary contents as base64; the
// XML form optionally gzips text before encoding.
type FileWrapper struct {
	varBase
}

var _ VarWrapper = (*FileWrapper)(nil)

func (w *FileWrapper) PHXType() (string, error) {
	return "com.phoenix_int.aserver.types.PHXRawFile", nil
}

func (w *FileWrapper) fileRef() (*types.FileRef, error) {
	val, err := w.sys.Get(w.name)
	if err != nil {
		return nil, errors.Internal(err)
	}
	ref, ok := val.(*types.FileRef)
	if !ok {
		return nil, errors.Internalf("unexpected type for %s.%s: %T",
			w.sys.Pathname(), w.name, val)
	}
	return ref, nil
}

func (w *FileWrapper) Get(attr, path string) (string, error) {
	switch attr {
	case "value":
		ref, err := w.fileRef()
		if err != nil {
			return "", err
		}
		if ref == nil {
			return "", nil
		}
		data, err := ref.Read()
		if err != nil {
			// A missing or unreadable file reads as empty contents.
			return "", nil
		}
		if ref.Binary {
			return base64.StdEncoding.EncodeToString(data), nil
		}
		return EscapeString(string(data)), nil
	case "isBinary":
		ref, err := w.fileRef()
		if err != nil {
			return "", err
		}
		return boolStr(ref != nil && ref.Binary), nil
	case "mimeType":
		ref, err := w.fileRef()
		if err != nil {
			return "", err
		}
		if ref == nil {
			return "", nil
		}
		if typ := mime.TypeByExtension(filepath.Ext(ref.Path)); typ != "" {
			if i := strings.Index(typ, ";"); i >= 0 {
				typ = typ[:i]
			}
			return typ, nil
		}
		if ref.Binary {
			return "application/octet-stream", nil
		}
		return "text/plain", nil
	case "name", "nameCoded":
		ref, err := w.fileRef()
		if err != nil {
			return "", err
		}
		if ref == nil {
			return "", nil
		}
		return ref.Path, nil
	case "url":
		return "", nil
	default:
		return w.getCommon(attr, path, false)
	}
}

func (w *FileWrapper) Set(attr, path, valstr string, gzipped bool) error {
	switch attr {
	case "value":
		if w.io != "input" {
			return &errors.ProtocolError{
				Kind:    errors.KindCannotSet,
				Message: fmt.Sprintf("cannot set output <%s>.", path),
			}
		}
		ref, err := w.fileRef()
		if err != nil {
			return err
		}
		if ref == nil {
			return errors.Internalf("no file bound to <%s>", path)
		}
		var data []byte
		if gzipped {
			data, err = DecodeFileData(valstr, !ref.Binary)
			if err != nil {
				return errors.Internal(err)
			}
		} else if ref.Binary {
			data = DecodeBase64(valstr)
		} else {
			data = []byte(UnescapeString(strings.Trim(valstr, `"`)))
		}
		if err := ref.Write(data); err != nil {
			return errors.Internal(err)
		}
		return nil
	case "description", "isBinary", "mimeType", "name", "nameCoded", "url":
		return errors.CannotSet(path)
	default:
		return errors.NoSuchProperty(path)
	}
}

func (w *FileWrapper) GetAsXML(gzipped bool) (string, error) {
	ref, err := w.fileRef()
	if err != nil {
		return "", err
	}
	var filename, data, zipped string
	if ref != nil {
		filename = ref.Path
	}

	if gzipped {
		if ref != nil {
			raw, err := ref.Read()
			if err == nil {
				data, _, err = EncodeFileData(raw, !ref.Binary)
				if err != nil {
					return "", errors.Internal(err)
				}
				if !ref.Binary {
					zipped = ` gzipped="true"`
				}
			}
		}
	} else {
		val, err := w.Get("value", w.extPath)
		if err != nil {
			return "", err
		}
		data = xmlEscape(val)
	}

	isBinary, err := w.Get("isBinary", w.extPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<Variable name="%s" type="file" io="%s" description=%s isBinary="%s" fileName="%s"%s>%s</Variable>`,
		w.extName, w.io, w.xmlDesc(), isBinary, filename, zipped, data), nil
}

func (w *FileWrapper) ListProperties() []string {
	return []string{
		"description (type=java.lang.String) (access=g)",
		"isBinary (type=boolean) (access=g)",
		"mimeType (type=java.lang.String) (access=g)",
		"name (type=java.lang.String) (access=g)",
		"nameCoded (type=java.lang.String) (access=g)",
		"url (type=java.lang.String) (access=g)",
	}
}
