package vfs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// ReadType selects the conversion applied to read results
type ReadType string

const (
	ReadBinary     ReadType = "binary"
	ReadText       ReadType = "text"
	ReadDataSource ReadType = "datasource"
	ReadJSON       ReadType = "json"
)

// charsetOf returns the text encoding named by the charset parameter of a
// MIME type, or nil for UTF-8 and unknown types.
func charsetOf(contentType string) (encoding.Encoding, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, nil
	}
	name := strings.ToLower(strings.TrimSpace(params["charset"]))
	if name == "" || name == "utf-8" || name == "utf8" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown charset %q", ErrConversionFailure, name)
	}
	return enc, nil
}

// decodeText converts raw bytes to a string using the charset hint of the
// descriptor's MIME type.
func decodeText(data []byte, contentType string) (string, error) {
	enc, err := charsetOf(contentType)
	if err != nil {
		return "", err
	}
	if enc == nil {
		if !utf8.Valid(data) {
			return strings.ToValidUTF8(string(data), "�"), nil
		}
		return string(data), nil
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversionFailure, err)
	}
	return string(out), nil
}

// encodeText is the inverse of decodeText
func encodeText(s, contentType string) ([]byte, error) {
	enc, err := charsetOf(contentType)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return []byte(s), nil
	}
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailure, err)
	}
	return out, nil
}

// convertRead applies the requested conversion to a read result. A JSON
// parse failure yields a nil value unless strict is set.
func convertRead(data []byte, f File, as ReadType, strict bool) (any, error) {
	switch as {
	case "", ReadBinary:
		return data, nil
	case ReadText:
		return decodeText(data, f.MIME)
	case ReadDataSource:
		return DataURL{MIME: f.MIME, Data: data}.String(), nil
	case ReadJSON:
		text, err := decodeText(data, f.MIME)
		if err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			if strict {
				return nil, fmt.Errorf("%w: %v", ErrConversionFailure, err)
			}
			return nil, nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unknown read type %q", ErrInvalidArgument, as)
	}
}

// toBytes converts write payloads to binary. Strings are encoded with the
// charset of contentType; data URLs are decoded.
func toBytes(data any, contentType string) ([]byte, error) {
	switch d := data.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return d, nil
	case string:
		return encodeText(d, contentType)
	case DataURL:
		return d.Data, nil
	case *DataURL:
		if d == nil {
			return []byte{}, nil
		}
		return d.Data, nil
	case json.RawMessage:
		return []byte(d), nil
	case *bytes.Buffer:
		return d.Bytes(), nil
	case io.Reader:
		b, err := io.ReadAll(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConversionFailure, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: cannot write %T", ErrConversionFailure, data)
	}
}
