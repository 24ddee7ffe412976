package kiln

import (
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint identifies the exact content an artifact was built from.
// Open documents hash their text; closed files use the cheaper
// (mtime, size) stat pair so unchanged cold files are never re-hashed.
// A cache entry is valid only for the exact fingerprint it was built
// from; any mismatch is a forced miss.
type Fingerprint string

// ContentFingerprint hashes document text into a fingerprint.
func ContentFingerprint(text string) Fingerprint {
	return Fingerprint("x" + strconv.FormatUint(xxhash.Sum64String(text), 16))
}

// ContentFingerprintBytes hashes raw bytes into a fingerprint.
func ContentFingerprintBytes(data []byte) Fingerprint {
	return Fingerprint("x" + strconv.FormatUint(xxhash.Sum64(data), 16))
}

// StatFingerprint derives a fingerprint from a file's stat info.
func StatFingerprint(info os.FileInfo) Fingerprint {
	return Fingerprint("s" + strconv.FormatInt(info.ModTime().UnixNano(), 36) +
		"-" + strconv.FormatInt(info.Size(), 10))
}

// FileFingerprint stats path and returns its fingerprint.
func FileFingerprint(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	return StatFingerprint(info), nil
}
