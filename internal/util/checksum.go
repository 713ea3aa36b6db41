package util

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

const checksumBufferSize = 1 << 20

// FileChecksum returns the hex SHA-256 of the full file content, read in 1 MiB blocks.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, checksumBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// StringChecksum returns the hex SHA-256 of the joined parts, separated by NUL bytes.
func StringChecksum(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{0})
		}
		_, _ = io.WriteString(h, p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
