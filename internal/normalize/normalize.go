// Package normalize turns the three inbound request shapes into image bytes
// plus validated transform options.
package normalize

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/dunamismax/pixelpress/internal/domain"
)

// FileField is the multipart form field that carries the image.
const FileField = "file"

// Request is a normalized inbound request.
type Request struct {
	Image   []byte
	Options domain.TransformOptions
	Path    EntryPath
}

type Normalizer struct {
	maxImageBytes int
	defaults      [numEntryPaths]Defaults
}

// New builds a Normalizer. maxImageBytes bounds the decoded image size on
// every path; structuredQuality is the JSON default quality.
func New(maxImageBytes, structuredQuality int) *Normalizer {
	if maxImageBytes <= 0 {
		maxImageBytes = 50 << 20
	}
	return &Normalizer{
		maxImageBytes: maxImageBytes,
		defaults:      DefaultsTable(structuredQuality),
	}
}

func (n *Normalizer) Defaults(path EntryPath) Defaults {
	return n.defaults[path]
}

func (n *Normalizer) MaxImageBytes() int {
	return n.maxImageBytes
}

// BodyLimit is the largest request body worth reading: a base64 encoding of
// the largest accepted image plus room for the JSON envelope.
func (n *Normalizer) BodyLimit() int64 {
	return int64(base64.StdEncoding.EncodedLen(n.maxImageBytes)) + 64<<10
}

// MultipartLimit is the largest multipart body worth reading: the largest
// accepted image plus room for part headers and small form fields.
func (n *Normalizer) MultipartLimit() int64 {
	return int64(n.maxImageBytes) + 64<<10
}

// ReadBody reads at most limit bytes from r and fails with PayloadTooLarge
// when more are available.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrInvalidParameter, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrPayloadTooLarge, limit)
	}
	return data, nil
}

type structuredBody struct {
	ImageData   string          `json:"image_data"`
	Quality     json.RawMessage `json:"quality"`
	Format      *string         `json:"format"`
	Aggressive  *bool           `json:"aggressive"`
	Progressive json.RawMessage `json:"progressive"`
}

// FromStructured handles the JSON body path. Bodies that are not a JSON
// object with a string image_data are taken as bare base64 with the fallback
// defaults.
func (n *Normalizer) FromStructured(body []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || !isJSONString(fields["image_data"]) {
		return n.fromBareBase64(body)
	}

	var in structuredBody
	if err := json.Unmarshal(body, &in); err != nil {
		return Request{}, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidParameter, err)
	}

	opts := n.defaults[PathStructured].options()
	if len(in.Quality) > 0 && string(in.Quality) != "null" {
		q, err := jsonQuality(in.Quality)
		if err != nil {
			return Request{}, err
		}
		opts.Quality = q
	}
	if in.Format != nil {
		f, err := domain.ParseFormat(*in.Format)
		if err != nil {
			return Request{}, err
		}
		opts.OutputFormat = f
	}
	if in.Aggressive != nil {
		opts.Aggressive = *in.Aggressive
	}

	image, err := n.decodeBase64(in.ImageData)
	if err != nil {
		return Request{}, err
	}
	return n.finish(PathStructured, image, opts)
}

func isJSONString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

func (n *Normalizer) fromBareBase64(body []byte) (Request, error) {
	image, err := n.decodeBase64(string(body))
	if err != nil {
		return Request{}, err
	}
	return n.finish(PathStructuredFallback, image, n.defaults[PathStructuredFallback].options())
}

// jsonQuality accepts an integral JSON number or a numeric string.
func jsonQuality(raw json.RawMessage) (int, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return parseQuality("quality", asString)
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err != nil || asNumber != float64(int(asNumber)) {
		return 0, fmt.Errorf("%w: quality must be an integer, got %s", domain.ErrInvalidParameter, raw)
	}
	q := int(asNumber)
	if q < 1 || q > 100 {
		return 0, fmt.Errorf("%w: quality must be between 1 and 100, got %d", domain.ErrInvalidParameter, q)
	}
	return q, nil
}

// FromRaw handles a raw binary body with quality, format and aggressive
// query parameters.
func (n *Normalizer) FromRaw(body []byte, query url.Values) (Request, error) {
	if len(body) == 0 {
		return Request{}, fmt.Errorf("%w: request body is empty", domain.ErrInvalidParameter)
	}

	opts := n.defaults[PathRaw].options()
	params := queryParams{values: query}
	params.quality("quality", &opts.Quality)
	params.format("format", &opts.OutputFormat)
	params.boolean("aggressive", &opts.Aggressive)
	if params.err != nil {
		return Request{}, params.err
	}
	return n.finish(PathRaw, body, opts)
}

// IsMultipart reports whether contentType is multipart/form-data.
func IsMultipart(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && strings.EqualFold(mediaType, "multipart/form-data")
}

// FromMultipart reads the file field of a multipart body and applies the
// q, bw, br and f query parameters. withResize additionally reads w, h and t
// and requires at least one of w and h.
func (n *Normalizer) FromMultipart(contentType string, body io.Reader, query url.Values, withResize bool) (Request, error) {
	mediaType, mediaParams, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.EqualFold(mediaType, "multipart/form-data") {
		return Request{}, fmt.Errorf("%w: Content-Type must be multipart/form-data", domain.ErrInvalidParameter)
	}
	boundary := mediaParams["boundary"]
	if boundary == "" {
		return Request{}, fmt.Errorf("%w: multipart boundary is missing", domain.ErrInvalidParameter)
	}

	opts := n.defaults[PathMultipart].options()
	params := queryParams{values: query}
	params.quality("q", &opts.Quality)
	params.boolean("bw", &opts.BlackAndWhite)
	params.integer("br", &opts.BorderRadius)
	params.format("f", &opts.OutputFormat)
	if withResize {
		spec := domain.ResizeSpec{
			Width:  params.optionalInt("w"),
			Height: params.optionalInt("h"),
		}
		params.resizeMode("t", &spec.Mode)
		opts.Resize = &spec
	}
	if params.err != nil {
		return Request{}, params.err
	}
	if err := opts.Validate(); err != nil {
		return Request{}, err
	}

	capped := &cappedReader{r: body, left: n.MultipartLimit()}
	image, err := n.readFilePart(multipart.NewReader(capped, boundary), capped)
	if err != nil {
		return Request{}, err
	}
	return n.finish(PathMultipart, image, opts)
}

func (n *Normalizer) readFilePart(reader *multipart.Reader, capped *cappedReader) ([]byte, error) {
	for {
		part, err := reader.NextPart()
		if capped.exceeded {
			return nil, n.multipartTooLarge()
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: multipart body has no %q field", domain.ErrInvalidParameter, FileField)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed multipart body: %v", domain.ErrInvalidParameter, err)
		}
		if part.FormName() != FileField {
			_ = part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, int64(n.maxImageBytes)+1))
		_ = part.Close()
		if capped.exceeded {
			return nil, n.multipartTooLarge()
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %q field: %v", domain.ErrInvalidParameter, FileField, err)
		}
		if len(data) > n.maxImageBytes {
			return nil, n.tooLarge(len(data))
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: %q field is empty", domain.ErrInvalidParameter, FileField)
		}
		return data, nil
	}
}

// decodeBase64 strips an optional data URI prefix and any whitespace, then
// decodes padded or unpadded standard base64.
func (n *Normalizer) decodeBase64(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 || !strings.HasSuffix(encoded[:comma], ";base64") {
			return nil, fmt.Errorf("%w: data URI is not base64 encoded", domain.ErrInvalidBase64)
		}
		encoded = encoded[comma+1:]
	}
	encoded = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			return -1
		}
		return r
	}, encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: image data is empty", domain.ErrInvalidBase64)
	}
	if base64.StdEncoding.DecodedLen(len(encoded)) > n.maxImageBytes+2 {
		return nil, n.tooLarge(base64.StdEncoding.DecodedLen(len(encoded)))
	}

	enc := base64.StdEncoding
	if !strings.HasSuffix(encoded, "=") && len(encoded)%4 != 0 {
		enc = base64.RawStdEncoding
	}
	data, err := enc.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidBase64, err)
	}
	return data, nil
}

func (n *Normalizer) finish(path EntryPath, image []byte, opts domain.TransformOptions) (Request, error) {
	if len(image) > n.maxImageBytes {
		return Request{}, n.tooLarge(len(image))
	}
	if err := opts.Validate(); err != nil {
		return Request{}, err
	}
	return Request{Image: image, Options: opts, Path: path}, nil
}

func (n *Normalizer) multipartTooLarge() error {
	return fmt.Errorf("%w: multipart body exceeds %d bytes", domain.ErrPayloadTooLarge, n.MultipartLimit())
}

// cappedReader passes through at most left bytes and records when the
// underlying reader had more to give.
type cappedReader struct {
	r        io.Reader
	left     int64
	exceeded bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.left <= 0 {
		var one [1]byte
		n, err := c.r.Read(one[:])
		if n > 0 {
			c.exceeded = true
			return 0, errBodyCapped
		}
		return 0, err
	}
	if int64(len(p)) > c.left {
		p = p[:c.left]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	return n, err
}

var errBodyCapped = errors.New("body exceeds cap")

func (n *Normalizer) tooLarge(size int) error {
	return fmt.Errorf("%w: image is %d bytes, limit is %d", domain.ErrPayloadTooLarge, size, n.maxImageBytes)
}
