/*
Package security provides secret-at-rest encryption for fabric.

SecretsManager wraps AES-256-GCM to encrypt and decrypt named secrets
with a key derived from a password or supplied directly. It is used by
pkg/ingress to keep ACME-issued TLS private keys off disk in plaintext.

# Usage

	sm, err := security.NewSecretsManagerFromPassword(password)
	if err != nil {
		panic(err)
	}

	secret, err := sm.CreateSecret("example.com", certAndKeyPEM)
	if err != nil {
		panic(err)
	}

	plaintext, err := sm.GetSecretData(secret)
	if err != nil {
		panic(err) // tampering detected or wrong key
	}

# Format

Each ciphertext is [nonce || ciphertext || tag], with a fresh random
12-byte nonce per call so no two encryptions of the same secret collide.
*/
package security
