// Package integrity detects, validates, and converts between the two
// content-hash formats carried by patch manifests: ssri-style strings
// ("sha256-<base64>", "sha512-<base64>") and legacy git blob hashes
// ("git-sha256-<hex>"). All patch payloads are untrusted until one of the
// Validate functions has accepted them.
package integrity

import (
	// Register sha256/sha512 with go-digest.
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Format identifies which hash scheme a hash string uses.
type Format string

const (
	FormatSsri      Format = "ssri"
	FormatGitSha256 Format = "git-sha256"
	FormatUnknown   Format = "unknown"
)

const gitSha256Prefix = "git-sha256-"

// DetectFormat classifies a hash string. Anything that is not a well-formed
// ssri or git-sha256 string, including the empty string, is FormatUnknown.
func DetectFormat(hash string) Format {
	switch {
	case strings.HasPrefix(hash, "sha256-") && len(hash) > len("sha256-"),
		strings.HasPrefix(hash, "sha512-") && len(hash) > len("sha512-"):
		return FormatSsri
	case strings.HasPrefix(hash, gitSha256Prefix) && isGitHex(hash[len(gitSha256Prefix):]):
		return FormatGitSha256
	}
	return FormatUnknown
}

// isGitHex accepts 40-character (legacy SHA-1 length) and 64-character
// digests, either case.
func isGitHex(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// ValidateSsri reports whether content matches an ssri hash string by
// recomputing the named digest and comparing the base64 portions.
func ValidateSsri(content []byte, hash string) bool {
	alg, want, ok := strings.Cut(hash, "-")
	if !ok || want == "" {
		return false
	}
	computed, err := ComputeSsri(content, digest.Algorithm(alg))
	if err != nil {
		return false
	}
	return computed == hash
}

// ValidateGitBlob reports whether content matches a git-sha256 hash string.
// Git hashes a blob as sha256("blob " + decimalLength + "\x00" + content),
// so the raw content alone cannot be checked without rebuilding the header.
func ValidateGitBlob(content []byte, hash string) bool {
	if DetectFormat(hash) != FormatGitSha256 {
		return false
	}
	want := hash[len(gitSha256Prefix):]

	hasher := digest.SHA256.Hash()
	hasher.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	hasher.Write(content)
	got := digest.NewDigestFromBytes(digest.SHA256, hasher.Sum(nil)).Encoded()

	return strings.EqualFold(got, want)
}

// Validate dispatches on the detected format. Unknown formats validate as
// false; this function never returns an error.
func Validate(content []byte, hash string) bool {
	switch DetectFormat(hash) {
	case FormatSsri:
		return ValidateSsri(content, hash)
	case FormatGitSha256:
		return ValidateGitBlob(content, hash)
	}
	return false
}

// ComputeSsri returns the ssri hash string "<algorithm>-<base64digest>" for
// content. Only sha256 and sha512 are supported.
func ComputeSsri(content []byte, alg digest.Algorithm) (string, error) {
	if alg != digest.SHA256 && alg != digest.SHA512 {
		return "", ErrUnsupportedAlgorithm
	}
	hasher := alg.Hash()
	hasher.Write(content)
	return string(alg) + "-" + base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}

// ConvertToSsri re-expresses a git-sha256 hash as an ssri string. The git
// scheme salts the digest with a length-prefixed header, so the ssri value
// cannot be derived from the hash alone: the original content must be on
// hand and is re-validated first. A mismatch is an IntegrityError, never a
// silent acceptance.
func ConvertToSsri(content []byte, gitShaHash string, alg digest.Algorithm) (string, error) {
	if !ValidateGitBlob(content, gitShaHash) {
		return "", &IntegrityError{Hash: gitShaHash, Stage: "convert"}
	}
	return ComputeSsri(content, alg)
}

// NormalizeToSsri is the single entry point for reconciling mixed hash
// formats: ssri strings are validated against content and returned
// unchanged, git-sha256 strings are converted, and anything else fails with
// ErrUnsupportedFormat.
func NormalizeToSsri(content []byte, hash string, alg digest.Algorithm) (string, error) {
	switch DetectFormat(hash) {
	case FormatSsri:
		if !ValidateSsri(content, hash) {
			return "", &IntegrityError{Hash: hash, Stage: "normalize"}
		}
		return hash, nil
	case FormatGitSha256:
		return ConvertToSsri(content, hash, alg)
	}
	return "", ErrUnsupportedFormat
}
