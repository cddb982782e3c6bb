// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/json"
	"fmt"
	"mime"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Encoding names a body serialization.
type Encoding string

const (
	// EncodingJSON is the default wire encoding.
	EncodingJSON Encoding = "json"

	// EncodingCBOR is the compact alternative for POST bodies.
	EncodingCBOR Encoding = "cbor"
)

// ParseEncoding validates an encoding name. The empty string selects
// JSON.
func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(name) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingCBOR:
		return EncodingCBOR, nil
	default:
		return "", fmt.Errorf("unknown encoding %q", name)
	}
}

// ContentType returns the MIME type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingCBOR {
		return "application/cbor"
	}
	return "application/json"
}

// EncodingForContentType maps a Content-Type header to an Encoding.
// Parameters such as charset are ignored; an empty header means JSON.
func EncodingForContentType(header string) (Encoding, error) {
	if header == "" {
		return EncodingJSON, nil
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return "", fmt.Errorf("parsing content type: %w", err)
	}
	switch mediaType {
	case "application/json", "text/plain":
		return EncodingJSON, nil
	case "application/cbor":
		return EncodingCBOR, nil
	default:
		return "", fmt.Errorf("unsupported content type %q", mediaType)
	}
}

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Priority and similar enums marshal as text so CBOR and JSON
	// bodies carry the same values.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encOptions.Time = cbor.TimeRFC3339Nano
	cborEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	cborDecMode, err = cbor.DecOptions{
		// Event data decodes into map[string]any, matching what
		// encoding/json produces for the same payload.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with the given encoding.
func Marshal(v any, encoding Encoding) ([]byte, error) {
	switch encoding {
	case "", EncodingJSON:
		return json.Marshal(v)
	case EncodingCBOR:
		return cborEncMode.Marshal(v)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

// Unmarshal decodes data produced by Marshal with the same encoding.
func Unmarshal(data []byte, encoding Encoding, v any) error {
	switch encoding {
	case "", EncodingJSON:
		return json.Unmarshal(data, v)
	case EncodingCBOR:
		return cborDecMode.Unmarshal(data, v)
	default:
		return fmt.Errorf("unknown encoding %q", encoding)
	}
}
