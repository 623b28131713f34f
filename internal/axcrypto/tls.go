package axcrypto

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io/ioutil"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// certValidity is generous because nodes are expected to run for long
// stretches without an operator around to rotate the cert.
const certValidity = 10 * 365 * 24 * time.Hour

// LoadOrGenerateCert loads a self-signed certificate/key pair from
// certPath/keyPath, generating one bound to identity's RSA key if
// either file is missing. Key material lives on disk; the *tls.Config
// is built fresh by the caller.
func LoadOrGenerateCert(certPath, keyPath string, identity *Identity) (tls.Certificate, error) {
	if fileExists(certPath) && fileExists(keyPath) {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err == nil {
			return cert, nil
		}
		// fall through and regenerate on a corrupt pair
	}

	cert, certPEM, keyPEM, err := generateSelfSigned(identity)
	if err != nil {
		return tls.Certificate{}, err
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0700); err != nil {
		return tls.Certificate{}, errors.Wrap(err, "creating tls directory")
	}
	if err := ioutil.WriteFile(certPath, certPEM, 0644); err != nil {
		return tls.Certificate{}, errors.Wrap(err, "writing node.crt")
	}
	if err := ioutil.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return tls.Certificate{}, errors.Wrap(err, "writing node.key")
	}

	return cert, nil
}

func generateSelfSigned(identity *Identity) (tls.Certificate, []byte, []byte, error) {
	fingerprint, err := identity.Fingerprint()
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   fingerprint,
			Organization: []string{"axiom-node"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(certValidity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &identity.Private.PublicKey, identity.Private)
	if err != nil {
		return tls.Certificate{}, nil, nil, errors.Wrap(err, "creating self-signed certificate")
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: x509.MarshalPKCS1PrivateKey(identity.Private)})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}
	return cert, certPEM, keyPEM, nil
}

// ServerTLSConfig builds the TLS 1.2+ config used for both accepting
// and dialing peer connections. Every node trusts every other node's
// self-signed certificate (there is no shared CA in this protocol);
// authenticity of the remote party is instead established at the
// application layer by the HELLO/HELLO_ACK handshake and the
// fingerprint carried in every message's `from` field.
func ServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	}
}

// ClientTLSConfig builds the TLS config used when dialing a peer.
func ClientTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
