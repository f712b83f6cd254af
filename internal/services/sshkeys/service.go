// Package sshkeys generates and persists the SSH identity of one backup
// instance: a key pair exchanged with the remote server and the server's
// known-hosts identity blob.
package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Service generates and writes instance key material.
type Service struct {
	logger zerolog.Logger
}

// New creates a new key service.
func New(logger zerolog.Logger) *Service {
	return &Service{logger: logger}
}

// Generate creates a new ed25519 key pair and returns the public key in
// authorized_keys format and the private key in PEM format.
func (s *Service) Generate(comment string) (publicKey, privateKey string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating key pair: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", "", fmt.Errorf("encoding public key: %w", err)
	}
	publicKey = strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if comment != "" {
		publicKey = publicKey + " " + comment
	}

	pemBlock, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return "", "", fmt.Errorf("encoding private key: %w", err)
	}
	privateKey = string(pem.EncodeToMemory(pemBlock))
	return publicKey, privateKey, nil
}

// WriteKeyPair generates a fresh key pair and writes it to the given paths
// with owner-only permissions, replacing any previous identity. The public
// key is returned for registration with the server.
func (s *Service) WriteKeyPair(privPath, pubPath, comment string) (string, error) {
	publicKey, privateKey, err := s.Generate(comment)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(privPath, []byte(privateKey), 0o600); err != nil {
		return "", fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(publicKey+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing public key: %w", err)
	}
	s.logger.Debug().Str("path", privPath).Msg("new key pair written")
	return publicKey, nil
}

// WriteKnownHosts persists the server identity blob verbatim.
func (s *Service) WriteKnownHosts(path, identity string) error {
	if !strings.HasSuffix(identity, "\n") {
		identity += "\n"
	}
	if err := os.WriteFile(path, []byte(identity), 0o600); err != nil {
		return fmt.Errorf("writing known hosts: %w", err)
	}
	return nil
}
