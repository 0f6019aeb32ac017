package digest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestToHex(t *testing.T) {
	assert.Equal(t, "00ff10ab", ToHex([]byte{0x00, 0xff, 0x10, 0xab}))
	assert.Equal(t, "", ToHex(nil))
}

func TestStringDigests(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", MD5String(""))
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", MD5String("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", SHA256String("abc"))
}

func TestFileDigestsMatchInMemory(t *testing.T) {
	content := strings.Repeat("firmware-block-", 100000) // > 1 MiB, spans blocks
	path := writeTemp(t, []byte(content))

	md5sum, err := MD5File(path)
	require.NoError(t, err)
	assert.Equal(t, MD5String(content), md5sum)

	sha1sum, err := SHA1File(path)
	require.NoError(t, err)
	assert.Len(t, sha1sum, 40)

	small := writeTemp(t, []byte("abc"))
	sha1sum, err = SHA1File(small)
	require.NoError(t, err)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", sha1sum)
}

func TestMD5FileSegment(t *testing.T) {
	content := "0123456789abcdefghij"
	path := writeTemp(t, []byte(content))

	tests := []struct {
		name       string
		start, end int64
		want       string
	}{
		{"whole", 0, int64(len(content)), content},
		{"middle", 5, 10, content[5:10]},
		{"empty", 7, 7, ""},
		{"past eof", 15, 100, content[15:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MD5FileSegment(path, tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, MD5String(tt.want), got)
		})
	}

	_, err := MD5FileSegment(path, 10, 5)
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.img")

	_, err := MD5File(missing)
	assert.Error(t, err)
	_, err = SHA1File(missing)
	assert.Error(t, err)
	_, err = MD5FileSegment(missing, 0, 1)
	assert.Error(t, err)
}
