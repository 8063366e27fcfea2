// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package hashutil computes the digests used for corpus and crash dedup.
package hashutil

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// SHA1 returns the uppercase hex SHA1 digest of data.
func SHA1(data []byte) string {
	sum := sha1.Sum(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// SHA1File returns the uppercase hex SHA1 digest of the first n bytes of the
// file at path.
func SHA1File(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return SHA1(buf[:read]), nil
}
