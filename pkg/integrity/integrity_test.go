package integrity

import (
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helloSsri256 = "sha256-qUiQTy8PR5uPgZdpSzAYSw0u0cHNKh7A+4XSmaGSpEc="
	helloSsri512 = "sha512-2zl0qX8kB7fK4a5jfAAwaHoRkTJ01XhJJVjjnBbAF96E6s3Ixi/jTuThK0sUKIF/Cbaidgw/imZM6ulNJDSlkw=="
	helloGitBlob = "git-sha256-0bd69098bd9b9cc5934a610ab65da429b525361147faa7b5b922919e9a23143d"
	emptyGitBlob = "git-sha256-473a0f4c3be8a93681a267e3b1e9a7dcda1185436fe141f7749120a303721813"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		hash string
		want Format
	}{
		{"ssri sha256", "sha256-xyz", FormatSsri},
		{"ssri sha512", "sha512-abc", FormatSsri},
		{"ssri full", helloSsri256, FormatSsri},
		{"git 64 hex", emptyGitBlob, FormatGitSha256},
		{"git 40 hex", "git-sha256-" + strings.Repeat("ab", 20), FormatGitSha256},
		{"git upper hex", "git-sha256-" + strings.Repeat("AB", 32), FormatGitSha256},
		{"git wrong length", "git-sha256-" + strings.Repeat("ab", 21), FormatUnknown},
		{"git non-hex", "git-sha256-" + strings.Repeat("zz", 32), FormatUnknown},
		{"bare prefix sha256", "sha256-", FormatUnknown},
		{"bare prefix git", "git-sha256-", FormatUnknown},
		{"empty", "", FormatUnknown},
		{"garbage", "garbage", FormatUnknown},
		{"md5 style", "md5-abcd", FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.hash))
		})
	}
}

func TestValidateSsri(t *testing.T) {
	content := []byte("hello world\n")

	assert.True(t, ValidateSsri(content, helloSsri256))
	assert.True(t, ValidateSsri(content, helloSsri512))
	assert.False(t, ValidateSsri([]byte("hello world"), helloSsri256))
	assert.False(t, ValidateSsri(content, "sha256-bm90IHRoZSByaWdodCBkaWdlc3Q="))
	assert.False(t, ValidateSsri(content, "sha384-qUiQTy8PR5uPgZdpSzAYSw0u0cHNKh7A+4XSmaGSpEc="))
	assert.False(t, ValidateSsri(content, ""))
}

func TestValidateGitBlob(t *testing.T) {
	assert.True(t, ValidateGitBlob([]byte{}, emptyGitBlob))
	assert.True(t, ValidateGitBlob([]byte("hello world\n"), helloGitBlob))

	// Hex comparison is case-insensitive.
	upper := "git-sha256-" + strings.ToUpper(strings.TrimPrefix(helloGitBlob, "git-sha256-"))
	assert.True(t, ValidateGitBlob([]byte("hello world\n"), upper))

	assert.False(t, ValidateGitBlob([]byte("hello world"), helloGitBlob))
	assert.False(t, ValidateGitBlob([]byte{}, "git-sha256-"+strings.Repeat("0", 64)))
	assert.False(t, ValidateGitBlob([]byte{}, "garbage"))
}

func TestValidateDispatch(t *testing.T) {
	content := []byte("hello world\n")

	assert.True(t, Validate(content, helloSsri256))
	assert.True(t, Validate(content, helloGitBlob))
	assert.False(t, Validate(content, "garbage"))
	assert.False(t, Validate(content, ""))
}

func TestComputeSsri(t *testing.T) {
	got, err := ComputeSsri([]byte("hello world\n"), digest.SHA256)
	require.NoError(t, err)
	assert.Equal(t, helloSsri256, got)

	got, err = ComputeSsri([]byte("hello world\n"), digest.SHA512)
	require.NoError(t, err)
	assert.Equal(t, helloSsri512, got)

	_, err = ComputeSsri([]byte("x"), digest.SHA384)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestConvertToSsri(t *testing.T) {
	content := []byte("hello world\n")

	got, err := ConvertToSsri(content, helloGitBlob, digest.SHA256)
	require.NoError(t, err)
	assert.Equal(t, helloSsri256, got)

	// Content that did not produce the git hash must never be accepted.
	_, err = ConvertToSsri([]byte("tampered"), helloGitBlob, digest.SHA256)
	var intErr *IntegrityError
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, helloGitBlob, intErr.Hash)
}

func TestNormalizeToSsri(t *testing.T) {
	content := []byte("hello world\n")

	// ssri input round-trips unchanged.
	got, err := NormalizeToSsri(content, helloSsri256, digest.SHA256)
	require.NoError(t, err)
	assert.Equal(t, helloSsri256, got)

	// Legacy git hashes convert to the equivalent ssri string.
	got, err = NormalizeToSsri(content, helloGitBlob, digest.SHA256)
	require.NoError(t, err)
	assert.Equal(t, helloSsri256, got)

	// Mismatched ssri input is an integrity error, not a pass-through.
	var intErr *IntegrityError
	_, err = NormalizeToSsri([]byte("tampered"), helloSsri256, digest.SHA256)
	require.ErrorAs(t, err, &intErr)

	_, err = NormalizeToSsri(content, "garbage", digest.SHA256)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNormalizeRoundTrip(t *testing.T) {
	for _, content := range [][]byte{
		{},
		[]byte("a"),
		[]byte("hello world\n"),
		[]byte(strings.Repeat("patch content ", 1024)),
	} {
		computed, err := ComputeSsri(content, digest.SHA256)
		require.NoError(t, err)

		normalized, err := NormalizeToSsri(content, computed, digest.SHA256)
		require.NoError(t, err)
		assert.Equal(t, computed, normalized)
	}
}
