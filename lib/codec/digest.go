// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// DigestHeader carries Digest(body) on POST requests.
const DigestHeader = "X-Webtrack-Digest"

// batchDomainKey separates batch digests from any other BLAKE3 use of
// the same bytes. ASCII "webtrack.batch" zero-padded to 32 bytes.
var batchDomainKey = [32]byte{
	'w', 'e', 'b', 't', 'r', 'a', 'c', 'k', '.', 'b', 'a', 't', 'c', 'h',
}

// Digest returns the hex BLAKE3 keyed hash of an uncompressed body.
func Digest(body []byte) string {
	hasher, err := blake3.NewKeyed(batchDomainKey[:])
	if err != nil {
		panic("codec: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(body)
	return hex.EncodeToString(hasher.Sum(nil))
}
