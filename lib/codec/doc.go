// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec encodes event batches for the wire.
//
// The collection endpoint speaks JSON: a POSTed JSON array of event
// records, the same array base64-encoded into the pixel GET's data
// parameter, or a JSON beacon body. Collectors that opt in may also
// receive CBOR bodies and compressed bodies on the POST path:
//
//	body, err := codec.Marshal(events, codec.EncodingCBOR)
//	compressed, err := codec.Compress(body, codec.CompressionZstd)
//	digest := codec.Digest(body)
//
// CBOR uses Core Deterministic Encoding (RFC 8949 §4.2), so the same
// batch always produces the same bytes and therefore the same
// [Digest]. Digests are always computed over the uncompressed body so
// a collector can recognize a retried batch regardless of the
// compression the sender chose.
//
// Types carry `json` tags only; fxamacker/cbor reads them as a
// fallback, so one tag set names fields for both encodings.
package codec
