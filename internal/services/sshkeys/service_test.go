package sshkeys

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestGenerate(t *testing.T) {
	svc := New(testLogger())

	pub, priv, err := svc.Generate("john@laptop")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pub, "ssh-ed25519 "))
	assert.True(t, strings.HasSuffix(pub, " john@laptop"))
	assert.Contains(t, priv, "OPENSSH PRIVATE KEY")

	// The key pair must actually parse and match.
	signer, err := ssh.ParsePrivateKey([]byte(priv))
	require.NoError(t, err)
	parsedPub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pub))
	require.NoError(t, err)
	assert.Equal(t, parsedPub.Marshal(), signer.PublicKey().Marshal())
}

func TestWriteKeyPair(t *testing.T) {
	dir := t.TempDir()
	svc := New(testLogger())
	privPath := filepath.Join(dir, "id_rsa")
	pubPath := filepath.Join(dir, "id_rsa.pub")

	pub, err := svc.WriteKeyPair(privPath, pubPath, "laptop")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pub, "ssh-ed25519 "))

	info, err := os.Stat(privPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	onDisk, err := os.ReadFile(pubPath)
	require.NoError(t, err)
	assert.Equal(t, pub+"\n", string(onDisk))
}

func TestWriteKnownHosts(t *testing.T) {
	dir := t.TempDir()
	svc := New(testLogger())
	path := filepath.Join(dir, "known_hosts")

	require.NoError(t, svc.WriteKnownHosts(path, "backup.example.com ssh-ed25519 AAAA..."))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "backup.example.com ssh-ed25519 AAAA...\n", string(content))
}
