package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/acme/autocert"

	"github.com/markb/mentionbot/internal/log"
)

// HTTPSConfig serves the router over TLS with a Let's Encrypt certificate.
// The webhook registration requires a public https URL.
type HTTPSConfig struct {
	Domain   string // public host name the certificate is issued for
	CertDir  string // certificate cache directory
	Addr     string // TLS listen address, ":443" when empty
	HTTPAddr string // ACME challenges and redirect, ":80" when empty
}

// ValidateDomain rejects names Let's Encrypt will not issue for.
func ValidateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("domain required for HTTPS")
	}
	if strings.EqualFold(domain, "localhost") {
		return fmt.Errorf("Let's Encrypt requires a public domain, not localhost")
	}
	if net.ParseIP(strings.Trim(domain, "[]")) != nil {
		return fmt.Errorf("Let's Encrypt requires a domain name, not an IP address")
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") ||
		strings.HasPrefix(domain, "-") || strings.HasSuffix(domain, "-") ||
		strings.Contains(domain, "..") || strings.ContainsAny(domain, "/: ") {
		return fmt.Errorf("invalid domain format: %s", domain)
	}
	return nil
}

func newCertManager(cfg HTTPSConfig) *autocert.Manager {
	dir := cfg.CertDir
	if dir == "" {
		dir = "certs"
	}
	return &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Domain),
		Cache:      autocert.DirCache(dir),
	}
}

func redirectToHTTPS(domain string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}

// ListenAndServeTLS serves the router over TLS and runs a companion HTTP
// listener for ACME challenges that redirects everything else to https.
func (s *Server) ListenAndServeTLS(cfg HTTPSConfig) error {
	if err := ValidateDomain(cfg.Domain); err != nil {
		return err
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":443"
	}
	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":80"
	}

	mgr := newCertManager(cfg)
	redirect := &http.Server{
		Addr:              httpAddr,
		Handler:           mgr.HTTPHandler(redirectToHTTPS(cfg.Domain)),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	tlsSrv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		TLSConfig: &tls.Config{
			GetCertificate: mgr.GetCertificate,
			NextProtos:     []string{"h2", "http/1.1"},
		},
	}

	s.mu.Lock()
	s.httpRedirect = redirect
	s.httpsServer = tlsSrv
	s.mu.Unlock()

	go func() {
		if err := ignoreClosed(redirect.ListenAndServe()); err != nil {
			log.Error("http redirect server failed", "addr", httpAddr, "error", err)
		}
	}()

	log.Info("https server listening", "addr", addr, "domain", cfg.Domain)
	return ignoreClosed(tlsSrv.ListenAndServeTLS("", ""))
}
