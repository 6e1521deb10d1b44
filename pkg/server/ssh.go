package server

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const hostKeyPEMType = "ED25519 PRIVATE KEY"

// buildSSHConfig assembles the ssh.ServerConfig used for every inbound
// handshake: password authentication against the configured credential and,
// when an authorized keys file is present, public-key authentication.
func buildSSHConfig(auth AuthConfig, signer ssh.Signer) (*ssh.ServerConfig, error) {
	cfg := &ssh.ServerConfig{
		MaxAuthTries: auth.MaxAuthTries,
	}

	if auth.Password != "" {
		user := []byte(auth.User)
		password := []byte(auth.Password)
		cfg.PasswordCallback = func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			userOK := subtle.ConstantTimeCompare([]byte(conn.User()), user) == 1
			passOK := subtle.ConstantTimeCompare(pass, password) == 1
			if userOK && passOK {
				return &ssh.Permissions{
					Extensions: map[string]string{"auth-method": "password"},
				}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		}
	}

	if auth.AuthorizedKeysFile != "" {
		authorized, err := loadAuthorizedKeys(auth.AuthorizedKeysFile)
		if err != nil {
			return nil, err
		}
		cfg.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if conn.User() != auth.User {
				return nil, fmt.Errorf("public key rejected for %q", conn.User())
			}
			if authorized[string(key.Marshal())] {
				return &ssh.Permissions{
					Extensions: map[string]string{
						"auth-method": "publickey",
						"pubkey-fp":   ssh.FingerprintSHA256(key),
					},
				}, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", conn.User())
		}
	}

	cfg.AddHostKey(signer)
	return cfg, nil
}

// loadAuthorizedKeys parses an authorized_keys file into a lookup set keyed
// by the marshaled key bytes.
func loadAuthorizedKeys(path string) (map[string]bool, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read authorized keys file: %w", err)
	}

	authorized := make(map[string]bool)
	for len(data) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse authorized keys file %s: %w", path, err)
		}
		authorized[string(key.Marshal())] = true
		data = rest
	}
	if len(authorized) == 0 {
		return nil, fmt.Errorf("authorized keys file %s contains no keys", path)
	}
	return authorized, nil
}

// loadOrCreateHostKey loads the ed25519 host key from keyFile, generating
// and saving a new one when the file does not exist.
func loadOrCreateHostKey(keyFile string) (ssh.Signer, error) {
	keyPath := filepath.Clean(keyFile)

	keyBytes, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		return parseHostKey(keyBytes)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read host key file: %w", err)
	}

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("encode host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: hostKeyPEMType, Bytes: der})

	if err := os.WriteFile(keyPath, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("save host key to %s: %w", keyPath, err)
	}

	return ssh.NewSignerFromKey(privateKey)
}

func parseHostKey(keyBytes []byte) (ssh.Signer, error) {
	block, _ := pem.Decode(bytes.TrimSpace(keyBytes))
	if block == nil {
		return nil, fmt.Errorf("host key file is not PEM encoded")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse host key: %w", err)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("host key is not an ed25519 key")
	}

	return ssh.NewSignerFromKey(edKey)
}
