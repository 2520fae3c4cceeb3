// Package certs tracks the TLS material handed over by the external
// certificate authority: the chain, the private key, and their freshness.
// It does bookkeeping and validation only; issuance happens elsewhere.
package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wudi/ingress-operator/internal/validate"
)

const (
	certFileName     = "cert.pem"
	keyFileName      = "key.pem"
	hostnameFileName = "hostname"
)

// TLSState is the currently active TLS binding. Absent state means the proxy
// serves plain HTTP.
type TLSState struct {
	// Hostname the certificate was issued for.
	Hostname string
	// ChainPEM is the full certificate chain, leaf first.
	ChainPEM []byte
	// KeyPEM is the private key matching the leaf.
	KeyPEM []byte
	// NotBefore/NotAfter are the leaf validity bounds.
	NotBefore time.Time
	NotAfter  time.Time
	// CAFingerprint is the SHA-256 of the last certificate in the chain.
	CAFingerprint string
	// IssuedAt records when the state was accepted by this manager.
	IssuedAt time.Time
}

// InvalidCertificateError reports TLS material that failed validation. The
// prior state stays in effect (fail-closed).
type InvalidCertificateError struct {
	Reason string
}

func (e *InvalidCertificateError) Error() string {
	return "invalid certificate: " + e.Reason
}

// Manager owns the TLSState. Mutations bump a generation counter observed by
// the reconcile loop.
type Manager struct {
	mu      sync.RWMutex
	state   *TLSState
	certDir string

	generation atomic.Int64
}

// NewManager creates a Manager persisting material under certDir. Pass an
// empty certDir to keep state in memory only.
func NewManager(certDir string) *Manager {
	return &Manager{certDir: certDir}
}

// Generation returns the current generation counter.
func (m *Manager) Generation() int64 {
	return m.generation.Load()
}

// Current returns a copy of the active TLSState, or false when TLS is not
// configured.
func (m *Manager) Current() (TLSState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return TLSState{}, false
	}
	return *m.state, true
}

// CertPath returns the on-disk location of the active chain.
func (m *Manager) CertPath() string {
	return filepath.Join(m.certDir, certFileName)
}

// KeyPath returns the on-disk location of the active key.
func (m *Manager) KeyPath() string {
	return filepath.Join(m.certDir, keyFileName)
}

// SetCertificate validates and installs new TLS material. On any validation
// failure the previous state is kept and an *InvalidCertificateError is
// returned: the proxy must never serve with unverified material.
func (m *Manager) SetCertificate(chainPEM, keyPEM []byte, hostname string) error {
	state, err := buildState(chainPEM, keyPEM, hostname)
	if err != nil {
		return err
	}

	if m.certDir != "" {
		if err := m.persist(state); err != nil {
			return fmt.Errorf("persist certificate: %w", err)
		}
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.generation.Add(1)
	return nil
}

// Revoke clears the TLSState and removes persisted material. The next
// reconciliation falls back to HTTP-only rules.
func (m *Manager) Revoke() {
	m.mu.Lock()
	m.state = nil
	m.mu.Unlock()

	if m.certDir != "" {
		os.Remove(m.CertPath())
		os.Remove(m.KeyPath())
		os.Remove(filepath.Join(m.certDir, hostnameFileName))
	}
	m.generation.Add(1)
}

// LoadFromDisk restores previously persisted material, re-validating it so a
// tampered or expired chain is not silently reused. Missing files are not an
// error.
func (m *Manager) LoadFromDisk() error {
	if m.certDir == "" {
		return nil
	}
	chainPEM, err := os.ReadFile(m.CertPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(m.KeyPath())
	if err != nil {
		return err
	}
	hostname, err := os.ReadFile(filepath.Join(m.certDir, hostnameFileName))
	if err != nil {
		return err
	}

	state, err := buildState(chainPEM, keyPEM, string(hostname))
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.generation.Add(1)
	return nil
}

func (m *Manager) persist(state *TLSState) error {
	if err := atomicWrite(m.CertPath(), state.ChainPEM, 0o644); err != nil {
		return err
	}
	if err := atomicWrite(m.KeyPath(), state.KeyPEM, 0o600); err != nil {
		return err
	}
	return atomicWrite(filepath.Join(m.certDir, hostnameFileName), []byte(state.Hostname), 0o644)
}

func buildState(chainPEM, keyPEM []byte, hostname string) (*TLSState, error) {
	if !validate.Hostname(hostname) {
		return nil, &InvalidCertificateError{Reason: fmt.Sprintf("hostname %q is not well-formed", hostname)}
	}

	// X509KeyPair both parses the chain and checks the key matches the leaf.
	pair, err := tls.X509KeyPair(chainPEM, keyPEM)
	if err != nil {
		return nil, &InvalidCertificateError{Reason: err.Error()}
	}

	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, &InvalidCertificateError{Reason: fmt.Sprintf("parse leaf: %v", err)}
	}
	if err := leaf.VerifyHostname(hostname); err != nil {
		return nil, &InvalidCertificateError{Reason: err.Error()}
	}

	// Fingerprint the issuer end of the chain. A single self-signed cert
	// fingerprints itself.
	last, err := x509.ParseCertificate(pair.Certificate[len(pair.Certificate)-1])
	if err != nil {
		return nil, &InvalidCertificateError{Reason: fmt.Sprintf("parse chain: %v", err)}
	}
	sum := sha256.Sum256(last.Raw)

	return &TLSState{
		Hostname:      hostname,
		ChainPEM:      append([]byte(nil), chainPEM...),
		KeyPEM:        append([]byte(nil), keyPEM...),
		NotBefore:     leaf.NotBefore,
		NotAfter:      leaf.NotAfter,
		CAFingerprint: hex.EncodeToString(sum[:]),
		IssuedAt:      time.Now().UTC(),
	}, nil
}

// ParseChainPEM counts and parses the certificates in a PEM bundle. Exposed
// for status reporting.
func ParseChainPEM(chainPEM []byte) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	rest := chainPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no certificates in PEM data")
	}
	return out, nil
}

// atomicWrite writes data to a file atomically using tmp+fsync+rename.
func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}
