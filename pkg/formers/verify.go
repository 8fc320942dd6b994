// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// fileSHA256 returns the hex sha256 of the file at path.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifySHA256 computes the SHA256 of a file and compares it to expected.
func verifySHA256(path, expected string) error {
	sum, err := fileSHA256(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(sum, expected) {
		return &VerificationError{Path: path, Expected: expected, Actual: sum}
	}
	return nil
}
