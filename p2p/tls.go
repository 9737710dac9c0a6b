package p2p

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"math/big"
	"time"

	"golang.org/x/crypto/sha3"
)

// selfSignedCertLifetime is generous since there is no certificate
// authority to rotate against: the Handshake message carries peer
// identity (spec.md §6), not the certificate, so the certificate only
// needs to keep TLS happy for the life of the process.
const selfSignedCertLifetime = 100 * 365 * 24 * time.Hour

// GenerateIdentity creates a fresh ECDSA keypair, a self-signed TLS
// certificate over it, and derives the NodeID other peers will see in
// the Handshake message (spec.md §3) by SHA3-256-hashing the
// uncompressed public key down to its low 64 bits — the same
// hash-the-pubkey idiom the ecosystem uses for deriving short node/peer
// identifiers from a full key.
func GenerateIdentity() (tls.Certificate, NodeID, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, 0, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, 0, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "shardline-node"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(selfSignedCertLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:         true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, 0, err
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}

	pub := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	digest := sha3.Sum256(pub)
	id := NodeID(binary.BigEndian.Uint64(digest[len(digest)-8:]))

	return cert, id, nil
}

// TLSConfig builds the shared server/client tls.Config. Peer certificates
// are accepted unconditionally at the TLS layer (InsecureSkipVerify):
// authentication happens one level up, via the Handshake message's
// asserted NodeID, matching spec.md §6's "peer identity is carried in the
// Handshake message, not the certificate."
func TLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	}
}
