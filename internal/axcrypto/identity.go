package axcrypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// KeyBits is the RSA modulus size mandated for validator identities.
const KeyBits = 2048

const pemBlockType = "RSA PRIVATE KEY"

// Identity wraps a node's long-lived RSA-2048 keypair. Its public key
// fingerprint is stable for the lifetime of the underlying key file;
// losing that file is equivalent to creating a new identity.
type Identity struct {
	Private *rsa.PrivateKey
}

// GenerateIdentity creates a fresh RSA-2048 keypair.
func GenerateIdentity() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, errors.Wrap(err, "generating RSA identity")
	}
	return &Identity{Private: key}, nil
}

// PublicKeyBytes returns the PKIX DER encoding of the identity's public key.
func (id *Identity) PublicKeyBytes() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(&id.Private.PublicKey)
}

// Fingerprint returns the hex-encoded SHA-256 digest of the identity's
// public key, used throughout the protocol as a stable validator/peer
// identifier (`from` on the wire, `proposer` on a block).
func (id *Identity) Fingerprint() (string, error) {
	der, err := id.PublicKeyBytes()
	if err != nil {
		return "", err
	}
	return SHA256Hex(der), nil
}

// Sign produces a PKCS#1 v1.5 signature over the SHA-256 digest of msg.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	digest := SHA256(msg)
	return rsa.SignPKCS1v15(rand.Reader, id.Private, crypto.SHA256, digest)
}

// Verify checks sig against msg using the given DER-encoded public key.
func Verify(pubDER []byte, msg, sig []byte) (bool, error) {
	pub, err := x509.ParsePKIXPublicKey(pubDER)
	if err != nil {
		return false, errors.Wrap(err, "parsing public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return false, errors.New("public key is not RSA")
	}
	digest := SHA256(msg)
	err = rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest, sig)
	return err == nil, nil
}

// IdentityFile persists a node's private key as a 0600 PEM file,
// guarded by a mutex so concurrent load/save calls don't race.
type IdentityFile struct {
	mu   sync.Mutex
	path string
}

// NewIdentityFile returns an IdentityFile rooted at path (typically
// "<data-dir>/identity.pem").
func NewIdentityFile(path string) *IdentityFile {
	return &IdentityFile{path: path}
}

// Load reads the identity from disk. It returns (nil, nil) if the file
// does not exist yet.
func (f *IdentityFile) Load() (*Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf, err := ioutil.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading identity file")
	}
	if len(buf) == 0 {
		return nil, nil
	}

	block, _ := pem.Decode(buf)
	if block == nil {
		return nil, errors.New("identity.pem: invalid PEM data")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing RSA private key")
	}
	return &Identity{Private: key}, nil
}

// Save writes id to disk as a 0600 PEM file, creating parent
// directories as needed.
func (f *IdentityFile) Save(id *Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return errors.Wrap(err, "creating data directory")
	}

	der := x509.MarshalPKCS1PrivateKey(id.Private)
	block := &pem.Block{Type: pemBlockType, Bytes: der}
	data := pem.EncodeToMemory(block)

	if err := ioutil.WriteFile(f.path, data, 0600); err != nil {
		return errors.Wrap(err, "writing identity file")
	}
	return nil
}

// LoadOrGenerate loads the identity at path, generating and persisting
// a new one if none exists. When shared is true (test-only, see
// --shared-keys), every node that passes the same path should in
// practice point at the same fixture file rather than each generating
// its own; LoadOrGenerate has no special-case for it beyond the normal
// load/generate logic, because the CLI layer is responsible for routing
// all "shared keys" nodes to the same physical path.
func LoadOrGenerate(path string) (*Identity, error) {
	f := NewIdentityFile(path)
	id, err := f.Load()
	if err != nil {
		return nil, err
	}
	if id != nil {
		return id, nil
	}

	id, err = GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := f.Save(id); err != nil {
		return nil, err
	}
	return id, nil
}

// Fingerprint is a convenience for formatting purposes.
func Fingerprint(id *Identity) string {
	fp, err := id.Fingerprint()
	if err != nil {
		return fmt.Sprintf("<invalid:%v>", err)
	}
	return fp
}
