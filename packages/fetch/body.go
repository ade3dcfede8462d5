package fetch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PayloadKind tags the encoded request body. The union is closed: a new
// payload kind requires a new variant, never a fallback branch.
type PayloadKind int

const (
	// PayloadNone means the request carries no body.
	PayloadNone PayloadKind = iota
	// PayloadJSON is a JSON-serialized mapping.
	PayloadJSON
	// PayloadText is a plain string body.
	PayloadText
	// PayloadBinary is a raw byte slice.
	PayloadBinary
	// PayloadForm is an application/x-www-form-urlencoded body.
	PayloadForm
	// PayloadMultipart is a streamed multipart/form-data body.
	PayloadMultipart
	// PayloadStream is a caller-supplied reader, passed through unbuffered.
	PayloadStream
)

// Payload is the encoded request body handed to the adapter.
type Payload struct {
	Kind  PayloadKind
	Bytes []byte
	// Reader carries stream and multipart bodies. It is single-use.
	Reader io.Reader
	// ContentLength is -1 when unknown.
	ContentLength int64
}

// NewReader returns a reader over the payload, or nil for an empty body.
func (p Payload) NewReader() io.Reader {
	if p.Reader != nil {
		return p.Reader
	}
	if p.Kind == PayloadNone || p.Bytes == nil {
		return nil
	}
	return bytes.NewReader(p.Bytes)
}

// File is one multipart file part. Exactly one of Reader, Bytes or Path
// should be set; Path is opened lazily at encode time so retries can re-read
// the file.
type File struct {
	// Name is the part filename. Defaults to the base of Path, then to the
	// field name.
	Name        string
	ContentType string
	Reader      io.Reader
	Bytes       []byte
	Path        string
}

// EncodeBody classifies the request payload and produces the serialized body
// plus any inferred content-type, written into headers. Decision order:
// GET/HEAD drop the body; Files force multipart; a plain mapping serializes
// as JSON (or form-encoded when the content-type already says so); url.Values
// pass through; strings, bytes and readers pass through with a defaulted
// content-type.
func EncodeBody(cfg *Config, headers Header) (Payload, error) {
	method := strings.ToUpper(cfg.Method)
	if method == "GET" || method == "HEAD" || method == "" {
		return Payload{Kind: PayloadNone}, nil
	}

	if len(cfg.Files) > 0 {
		return encodeMultipart(cfg, headers)
	}

	switch data := cfg.Data.(type) {
	case nil:
		return Payload{Kind: PayloadNone}, nil

	case map[string]any:
		return encodeMapping(cfg, data, headers)
	case map[string]string:
		m := make(map[string]any, len(data))
		for k, v := range data {
			m[k] = v
		}
		return encodeMapping(cfg, m, headers)

	case url.Values:
		// Opaque native form type: the transport owns the content type.
		body := []byte(data.Encode())
		return Payload{Kind: PayloadForm, Bytes: body, ContentLength: int64(len(body))}, nil

	case string:
		if !headers.Has("content-type") {
			headers.Set("content-type", "text/plain; charset=utf-8")
		}
		return Payload{Kind: PayloadText, Bytes: []byte(data), ContentLength: int64(len(data))}, nil

	case []byte:
		if !headers.Has("content-type") {
			headers.Set("content-type", "application/octet-stream")
		}
		return Payload{Kind: PayloadBinary, Bytes: data, ContentLength: int64(len(data))}, nil

	case io.Reader:
		if !headers.Has("content-type") {
			headers.Set("content-type", "application/octet-stream")
		}
		return Payload{Kind: PayloadStream, Reader: data, ContentLength: -1}, nil

	default:
		return Payload{}, fmt.Errorf("unsupported body type %T", cfg.Data)
	}
}

// encodeMapping serializes a plain mapping as JSON, or as a form-encoded
// body when the in-effect content-type already indicates urlencoded.
func encodeMapping(cfg *Config, data map[string]any, headers Header) (Payload, error) {
	if strings.Contains(headers.Get("content-type"), "application/x-www-form-urlencoded") {
		body := []byte(formEncode(data))
		return Payload{Kind: PayloadForm, Bytes: body, ContentLength: int64(len(body))}, nil
	}

	marshal := cfg.JSONMarshal
	if marshal == nil {
		marshal = json.Marshal
	}
	body, err := marshal(data)
	if err != nil {
		return Payload{}, fmt.Errorf("encoding JSON body: %w", err)
	}
	if !headers.Has("content-type") {
		headers.Set("content-type", "application/json")
	}
	return Payload{Kind: PayloadJSON, Bytes: body, ContentLength: int64(len(body))}, nil
}

// formEncode renders a mapping as a query-string-shaped body with sorted
// keys. Arrays fan out to repeated keys; nil values are omitted.
func formEncode(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		pairs = append(pairs, encodeParam(k, data[k], ArrayRepeat)...)
	}
	return strings.Join(pairs, "&")
}

// encodeMultipart builds a streamed multipart body. Data fields become
// parts (arrays fan out, nested mappings JSON-stringify); each Files entry
// becomes one or more file parts. The multipart content-type always
// overrides any user-supplied value.
func encodeMultipart(cfg *Config, headers Header) (Payload, error) {
	var fields map[string]any
	switch data := cfg.Data.(type) {
	case nil:
	case map[string]any:
		fields = data
	case map[string]string:
		fields = make(map[string]any, len(data))
		for k, v := range data {
			fields[k] = v
		}
	default:
		return Payload{}, fmt.Errorf("multipart data must be a plain mapping, got %T", cfg.Data)
	}

	// Validate file values eagerly so classification errors surface before
	// the attempt starts rather than mid-stream.
	files := make(map[string][]*File, len(cfg.Files))
	fileKeys := make([]string, 0, len(cfg.Files))
	for field, value := range cfg.Files {
		parts, err := fileParts(field, value)
		if err != nil {
			return Payload{}, err
		}
		files[field] = parts
		fileKeys = append(fileKeys, field)
	}
	sort.Strings(fileKeys)

	fieldKeys := make([]string, 0, len(fields))
	for k := range fields {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)

	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			for _, field := range fieldKeys {
				if err := writeFormFields(w, field, fields[field]); err != nil {
					return err
				}
			}
			for _, field := range fileKeys {
				for _, f := range files[field] {
					if err := writeFilePart(w, field, f); err != nil {
						return err
					}
				}
			}
			return w.Close()
		}()
		pw.CloseWithError(err)
	}()

	headers.Set("content-type", w.FormDataContentType())
	return Payload{Kind: PayloadMultipart, Reader: pr, ContentLength: -1}, nil
}

// writeFormFields writes one data field as one or more parts. Arrays fan out
// to repeated same-named parts.
func writeFormFields(w *multipart.Writer, field string, value any) error {
	if arr, ok := toAnySlice(value); ok {
		for _, item := range arr {
			if item == nil {
				continue
			}
			s, err := multipartFieldValue(item)
			if err != nil {
				return err
			}
			if err := w.WriteField(field, s); err != nil {
				return err
			}
		}
		return nil
	}
	if value == nil {
		return nil
	}
	s, err := multipartFieldValue(value)
	if err != nil {
		return err
	}
	return w.WriteField(field, s)
}

// multipartFieldValue stringifies a data field: nested mappings become JSON,
// everything else follows the query stringification rules.
func multipartFieldValue(v any) (string, error) {
	if m, ok := v.(map[string]any); ok {
		b, err := json.Marshal(m)
		if err != nil {
			return "", fmt.Errorf("encoding multipart field: %w", err)
		}
		return string(b), nil
	}
	s, _ := stringifyQueryValue(v)
	return s, nil
}

// fileParts normalizes one Files entry into its file parts.
func fileParts(field string, value any) ([]*File, error) {
	switch v := value.(type) {
	case *File:
		return []*File{v}, nil
	case File:
		f := v
		return []*File{&f}, nil
	case []*File:
		return v, nil
	case []File:
		out := make([]*File, len(v))
		for i := range v {
			f := v[i]
			out[i] = &f
		}
		return out, nil
	case []any:
		var out []*File
		for _, item := range v {
			parts, err := fileParts(field, item)
			if err != nil {
				return nil, err
			}
			out = append(out, parts...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("file field %q must hold File values, got %T", field, value)
	}
}

var partQuoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func filePartHeader(field, filename, contentType string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		partQuoteEscaper.Replace(field), partQuoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	return h
}

func writeFilePart(w *multipart.Writer, field string, f *File) error {
	name := f.Name
	if name == "" && f.Path != "" {
		name = filepath.Base(f.Path)
	}
	if name == "" {
		name = field
	}

	var part io.Writer
	var err error
	if f.ContentType != "" {
		part, err = w.CreatePart(filePartHeader(field, name, f.ContentType))
	} else {
		part, err = w.CreateFormFile(field, name)
	}
	if err != nil {
		return err
	}

	switch {
	case f.Reader != nil:
		_, err = io.Copy(part, f.Reader)
	case f.Bytes != nil:
		_, err = part.Write(f.Bytes)
	case f.Path != "":
		var src *os.File
		src, err = os.Open(f.Path)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, src)
		src.Close()
	default:
		err = fmt.Errorf("file field %q has no content", field)
	}
	return err
}
