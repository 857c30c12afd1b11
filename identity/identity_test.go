package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsurePromptsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)

	var out bytes.Buffer
	key, err := Ensure(path, strings.NewReader("  7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU \n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", key)
	assert.Contains(t, out.String(), "public key")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out.Reset()
	again, err := Ensure(path, strings.NewReader("other\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, key, again)
	assert.Empty(t, out.String())
}

func TestEnsureWithoutNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")

	key, err := Ensure(path, strings.NewReader("abc"), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "abc", key)
}

func TestEnsureRejectsEmptyKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")

	_, err := Ensure(path, strings.NewReader("\n"), &bytes.Buffer{})
	require.ErrorIs(t, err, ErrNoIdentity)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("   \n"), 0o600))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrNoIdentity)

	_, err = Ensure(path, strings.NewReader("abc\n"), &bytes.Buffer{})
	require.ErrorIs(t, err, ErrNoIdentity)
}
