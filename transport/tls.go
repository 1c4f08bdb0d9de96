package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// LoadServerTLSConfig builds the tls.Config a ListenerConfig needs from a
// cert/key pair on disk. ALPN is added by withALPN at dial/listen time,
// not here, so the same loaded config can back both a listener and, with
// ClientAuth set by the caller, mutual authentication.
func LoadServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load server cert/key: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// LoadClientTLSConfig builds the tls.Config an EndpointConfig needs. When
// caFile is non-empty its certificate is the sole trust root, matching a
// private mesh where every peer is signed by one internal CA rather than
// the public web PKI.
func LoadClientTLSConfig(caFile string) (*tls.Config, error) {
	if caFile == "" {
		return &tls.Config{}, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("transport: read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("transport: no certificates parsed from %s", caFile)
	}
	return &tls.Config{RootCAs: pool}, nil
}
