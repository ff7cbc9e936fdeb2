package domain

import "errors"

var (
	ErrInvalidBase64     = errors.New("invalid base64 image data")
	ErrFormatUnknown     = errors.New("could not detect image format")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrEncodingFailure   = errors.New("encoding failed")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidBase64, "invalid_base64"},
	{ErrFormatUnknown, "format_unknown"},
	{ErrUnsupportedFormat, "unsupported_format"},
	{ErrPayloadTooLarge, "payload_too_large"},
	{ErrInvalidParameter, "invalid_parameter"},
	{ErrInvalidDimensions, "invalid_dimensions"},
	{ErrEncodingFailure, "encoding_failure"},
}

// KindOf returns the label of the request error kind wrapped by err, or
// "internal" when err does not wrap one.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// IsRequestError reports whether err is one of the terminal per-request kinds.
func IsRequestError(err error) bool {
	kind := KindOf(err)
	return kind != "" && kind != "internal"
}
