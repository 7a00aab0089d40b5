package network

import (
	"crypto/tls"

	"github.com/osus-project/osus-proxy/internal/config"
	"github.com/osus-project/osus-proxy/internal/util"
)

// ServerTLSConfig loads the proxy certificate, generating a self-signed one
// for "*.<source domain>" when allowed and missing. Only HTTP/1.1 is
// offered over ALPN.
func ServerTLSConfig(cfg config.ProxyConfig) (*tls.Config, error) {
	hosts := []string{"*." + cfg.SourceDomain, cfg.SourceDomain}
	cert, err := util.LoadCertificate(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.GenerateSelfSigned, hosts)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"http/1.1"},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
