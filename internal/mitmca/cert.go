package mitmca

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
	"golang.org/x/net/idna"
)

const leafValidity = 24 * time.Hour

// Factory mints and caches per-hostname leaf TLS server configurations,
// signed by a loaded CA. Exactly one leaf is issued for a given
// normalized hostname over the process lifetime; concurrent lookups for
// the same hostname converge on identical output because issuance is
// collapsed through a singleflight group paired with an lru cache.
type Factory struct {
	ca *CA

	mu    sync.Mutex // guards cache; lru.Cache is not safe for concurrent use
	cache *lru.Cache
	group *singleflight.Group
}

// NewFactory creates a leaf certificate factory backed by ca. The cache
// never evicts (lru.New(0)), so leaf certs accumulate for the process'
// no-eviction invariant.
func NewFactory(ca *CA) *Factory {
	return &Factory{
		ca:    ca,
		cache: lru.New(0),
		group: new(singleflight.Group),
	}
}

// GetServerConfig returns a TLS server config presenting a leaf certificate
// for host, minting and caching one on first use. host is normalized
// first (strip :port, lowercase, trim one trailing dot).
func (f *Factory) GetServerConfig(host string) (*tls.Config, error) {
	norm, err := normalizeHost(host)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if cached, ok := f.cache.Get(norm); ok {
		f.mu.Unlock()
		cert, _ := cached.(*tls.Certificate) //nolint:errcheck // type guaranteed by insertion
		return serverConfig(cert), nil
	}
	f.mu.Unlock()

	val, err := f.group.Do(norm, func() (any, error) {
		f.mu.Lock()
		if cached, ok := f.cache.Get(norm); ok {
			f.mu.Unlock()
			return cached, nil
		}
		f.mu.Unlock()

		leaf, err := f.mintLeaf(norm)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache.Add(norm, leaf)
		f.mu.Unlock()
		return leaf, nil
	})
	if err != nil {
		return nil, err
	}

	cert, _ := val.(*tls.Certificate) //nolint:errcheck // type guaranteed by mintLeaf
	return serverConfig(cert), nil
}

func serverConfig(cert *tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.NoClientCert,
	}
}

// mintLeaf synthesizes a fresh leaf certificate for the normalized
// hostname: a fresh ECDSA key pair, a single IA5 DNS SAN, signed by the
// loaded CA. host must already be IA5-valid (checked by normalizeHost).
func (f *Factory) mintLeaf(host string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key for %s: %w", host, err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, fmt.Errorf("generate leaf serial for %s: %w", host, err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   host,
			Organization: []string{leafOrg},
		},
		DNSNames:    []string{host},
		NotBefore:   now.Add(-5 * time.Minute),
		NotAfter:    now.Add(leafValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, f.ca.Cert, &key.PublicKey, f.ca.Key)
	if err != nil {
		return nil, fmt.Errorf("create leaf certificate for %s: %w", host, err)
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse leaf certificate for %s: %w", host, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// normalizeHost strips a trailing :port, lowercases, and trims one
// trailing dot, then validates the result is IA5-representable (ASCII,
// no bracketed IPv6 literal) since it becomes a DNSName SAN.
func normalizeHost(host string) (string, error) {
	h := host
	if idx := strings.LastIndex(h, ":"); idx >= 0 && !strings.Contains(h, "]") {
		h = h[:idx]
	}
	h = strings.ToLower(h)
	h = strings.TrimSuffix(h, ".")

	if h == "" {
		return "", fmt.Errorf("mitmca: empty hostname")
	}
	if strings.ContainsAny(h, "[]:") {
		return "", fmt.Errorf("mitmca: %q is not a valid IA5 DNS hostname (IP literal)", h)
	}
	if _, err := idna.ToASCII(h); err != nil {
		return "", fmt.Errorf("mitmca: %q is not IA5-valid: %w", h, err)
	}
	for _, r := range h {
		if r > 0x7f {
			return "", fmt.Errorf("mitmca: %q contains non-ASCII characters", h)
		}
	}
	return h, nil
}
