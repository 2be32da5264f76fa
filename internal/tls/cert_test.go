package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCertificatesGeneratesPair(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "certs", "powerd.crt")
	keyPath := filepath.Join(dir, "certs", "powerd.key")

	require.NoError(t, EnsureCertificates(certPath, keyPath))

	// the pair must load as a usable server certificate
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)
	require.NotEmpty(t, pair.Certificate)

	raw, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "powerd", cert.Subject.CommonName)
	assert.Contains(t, cert.DNSNames, "localhost")

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "private key must not be world readable")
}

func TestEnsureCertificatesKeepsExistingPair(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "powerd.crt")
	keyPath := filepath.Join(dir, "powerd.key")

	require.NoError(t, EnsureCertificates(certPath, keyPath))
	before, err := os.ReadFile(certPath)
	require.NoError(t, err)

	require.NoError(t, EnsureCertificates(certPath, keyPath))
	after, err := os.ReadFile(certPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "existing pair must not be regenerated")
}

func TestEnsureCertificatesRegeneratesIncompletePair(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "powerd.crt")
	keyPath := filepath.Join(dir, "powerd.key")

	require.NoError(t, os.WriteFile(certPath, []byte("orphaned"), 0644))
	require.NoError(t, EnsureCertificates(certPath, keyPath))

	_, err := tls.LoadX509KeyPair(certPath, keyPath)
	assert.NoError(t, err, "orphaned cert must be replaced by a valid pair")
}
