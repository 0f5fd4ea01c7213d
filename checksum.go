package vfs

import (
	"bytes"
	"context"
	"crypto/md5"  //nolint:gosec // MD5 used for checksum verification, not security
	"crypto/sha1" //nolint:gosec // SHA1 used for checksum verification, not security
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ChecksumAlgorithm names a content hash
type ChecksumAlgorithm string

const (
	ChecksumMD5    ChecksumAlgorithm = "md5"
	ChecksumSHA1   ChecksumAlgorithm = "sha1"
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
	ChecksumSHA512 ChecksumAlgorithm = "sha512"
	// ChecksumCRC32 is CRC32 with the IEEE polynomial
	ChecksumCRC32 ChecksumAlgorithm = "crc32"
	// ChecksumXXHash is 64-bit xxHash
	ChecksumXXHash ChecksumAlgorithm = "xxhash"
)

// NewHasher creates a hash.Hash for algorithm
func NewHasher(algorithm ChecksumAlgorithm) (hash.Hash, error) {
	switch algorithm {
	case ChecksumMD5:
		return md5.New(), nil //nolint:gosec // MD5 used for checksum verification, not security
	case ChecksumSHA1:
		return sha1.New(), nil //nolint:gosec // SHA1 used for checksum verification, not security
	case ChecksumSHA256:
		return sha256.New(), nil
	case ChecksumSHA512:
		return sha512.New(), nil
	case ChecksumCRC32:
		return crc32.NewIEEE(), nil
	case ChecksumXXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: checksum algorithm %q", ErrNotSupported, algorithm)
	}
}

// CalculateChecksum hashes everything r yields and returns the hex digest
func CalculateChecksum(r io.Reader, algorithm ChecksumAlgorithm) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("calculate checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Checksum returns the hex digest of item's content. Transports that can
// hash natively do so; everything else is downloaded and hashed here.
func (v *VFS) Checksum(ctx context.Context, item any, algorithm ChecksumAlgorithm) (sum string, err error) {
	var t target
	defer v.track("checksum", &t, time.Now(), &err)

	if t, err = v.prepare(item); err != nil {
		return "", err
	}
	if _, err = NewHasher(algorithm); err != nil {
		return "", err
	}

	if cs, ok := capability[CanChecksum](t.Mount.Transport); ok {
		sum, err = cs.Checksum(ctx, t.File, algorithm)
		if !IsNotSupported(err) {
			return sum, err
		}
	}

	rc, err := t.Mount.Transport.Download(ctx, t.File)
	if IsNotSupported(err) {
		var data []byte
		if data, err = t.Mount.Transport.Read(ctx, t.File); err != nil {
			return "", err
		}
		return CalculateChecksum(bytes.NewReader(data), algorithm)
	}
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return CalculateChecksum(rc, algorithm)
}

// VerifyChecksum reports whether item hashes to expected
func (v *VFS) VerifyChecksum(ctx context.Context, item any, expected string, algorithm ChecksumAlgorithm) (bool, error) {
	actual, err := v.Checksum(ctx, item, algorithm)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}
