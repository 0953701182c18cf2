package tlsx

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

type ClientConfig struct {
	CertFile           string
	KeyFile            string
	CaCertFile         string
	ServerName         string
	InsecureSkipVerify bool
}

func (c ClientConfig) TLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		ServerName:         c.ServerName,
	}

	if c.CaCertFile != "" {
		pem, err := os.ReadFile(c.CaCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ca cert %s: %v", c.CaCertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse ca cert %s", c.CaCertFile)
		}
		tlsConfig.RootCAs = pool
	}

	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %v", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
