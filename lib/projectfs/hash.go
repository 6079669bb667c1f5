// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package projectfs

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Hash is the BLAKE3 digest of a file's content.
type Hash [32]byte

// String returns the lowercase hex encoding.
func (hash Hash) String() string {
	return hex.EncodeToString(hash[:])
}

// contentDomainKey keys the content hash so project digests never
// collide with BLAKE3 digests computed for other purposes. The bytes
// are the ASCII domain name, zero-padded to 32.
var contentDomainKey = [32]byte{
	's', 't', 'u', 'd', 'i', 'o', '.', 'p', 'r', 'o', 'j', 'e', 'c', 't', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashBytes returns the content hash of data.
func HashBytes(data []byte) Hash {
	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		panic("projectfs: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// hashFile streams the file at path through the content hash.
func hashFile(path string) (Hash, error) {
	file, err := os.Open(path)
	if err != nil {
		return Hash{}, err
	}
	defer file.Close()

	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		return Hash{}, fmt.Errorf("initializing hash: %w", err)
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return Hash{}, err
	}
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result, nil
}
