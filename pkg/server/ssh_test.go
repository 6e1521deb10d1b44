package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestLoadOrCreateHostKey(t *testing.T) {
	t.Run("GeneratesAndPersistsKey", func(t *testing.T) {
		keyFile := filepath.Join(t.TempDir(), "host.key")

		signer, err := loadOrCreateHostKey(keyFile)
		require.NoError(t, err)

		info, err := os.Stat(keyFile)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		// A restart must present the same host key to devices.
		reloaded, err := loadOrCreateHostKey(keyFile)
		require.NoError(t, err)
		assert.Equal(t,
			signer.PublicKey().Marshal(),
			reloaded.PublicKey().Marshal())
	})

	t.Run("RejectsGarbageKeyFile", func(t *testing.T) {
		keyFile := filepath.Join(t.TempDir(), "host.key")
		require.NoError(t, os.WriteFile(keyFile, []byte("not a key"), 0o600))

		_, err := loadOrCreateHostKey(keyFile)
		assert.Error(t, err)
	})
}

func TestLoadAuthorizedKeys(t *testing.T) {
	newKeyLine := func(t *testing.T) (ssh.PublicKey, []byte) {
		pub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		sshPub, err := ssh.NewPublicKey(pub)
		require.NoError(t, err)
		return sshPub, ssh.MarshalAuthorizedKey(sshPub)
	}

	t.Run("LoadsAllKeys", func(t *testing.T) {
		first, firstLine := newKeyLine(t)
		second, secondLine := newKeyLine(t)

		path := filepath.Join(t.TempDir(), "authorized_keys")
		require.NoError(t, os.WriteFile(path, append(firstLine, secondLine...), 0o600))

		authorized, err := loadAuthorizedKeys(path)
		require.NoError(t, err)

		assert.True(t, authorized[string(first.Marshal())])
		assert.True(t, authorized[string(second.Marshal())])
	})

	t.Run("RejectsEmptyFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "authorized_keys")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		_, err := loadAuthorizedKeys(path)
		assert.Error(t, err)
	})

	t.Run("RejectsMissingFile", func(t *testing.T) {
		_, err := loadAuthorizedKeys(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})
}

func TestBuildSSHConfig_PublicKeyAuth(t *testing.T) {
	authorizedPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(authorizedPub)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "authorized_keys")
	require.NoError(t, os.WriteFile(path, ssh.MarshalAuthorizedKey(sshPub), 0o600))

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg, err := buildSSHConfig(AuthConfig{
		User:               "netconf-ca",
		Password:           "s3cret",
		AuthorizedKeysFile: path,
		MaxAuthTries:       3,
	}, signer)
	require.NoError(t, err)

	assert.NotNil(t, cfg.PasswordCallback)
	assert.NotNil(t, cfg.PublicKeyCallback)
	assert.Equal(t, 3, cfg.MaxAuthTries)
}
