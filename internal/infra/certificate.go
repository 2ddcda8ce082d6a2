package infra

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// certExpiryWarning is how early an upcoming expiry starts producing warnings.
const certExpiryWarning = 30 * 24 * time.Hour

// CertificateStatus reports whether the signing certificate is usable.
type CertificateStatus struct {
	Valid     bool
	Subject   string
	Serial    string
	NotBefore *time.Time
	NotAfter  *time.Time
	Errors    []string
	Warnings  []string
}

// CertificateStore reads the PKCS#12 bundle used by the sidecar to sign
// registros. The file is re-read on every validation so a renewed
// certificate is picked up without a restart.
type CertificateStore struct {
	path     string
	password string
	now      func() time.Time
}

// NewCertificateStore returns a store for the PKCS#12 signing certificate.
func NewCertificateStore(path, password string) *CertificateStore {
	return &CertificateStore{path: path, password: password, now: time.Now}
}

// Load decodes the bundle and returns its leaf certificate.
func (s *CertificateStore) Load() (*x509.Certificate, error) {
	if s.path == "" {
		return nil, fmt.Errorf("certificate: AEAT_CERT_PATH not configured")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("certificate: read %s: %w", s.path, err)
	}
	_, cert, err := pkcs12.Decode(data, s.password)
	if err != nil {
		return nil, fmt.Errorf("certificate: decode pkcs12: %w", err)
	}
	return cert, nil
}

// Validate never fails: problems are reported inside the status.
func (s *CertificateStore) Validate() *CertificateStatus {
	st := &CertificateStatus{}
	cert, err := s.Load()
	if err != nil {
		st.Errors = append(st.Errors, err.Error())
		return st
	}
	return s.inspect(cert)
}

func (s *CertificateStore) inspect(cert *x509.Certificate) *CertificateStatus {
	now := s.now()
	notBefore, notAfter := cert.NotBefore, cert.NotAfter
	st := &CertificateStatus{
		Subject:   cert.Subject.String(),
		Serial:    cert.SerialNumber.String(),
		NotBefore: &notBefore,
		NotAfter:  &notAfter,
	}
	switch {
	case now.Before(notBefore):
		st.Errors = append(st.Errors, "el certificado aún no es válido")
	case !now.Before(notAfter):
		st.Errors = append(st.Errors, "el certificado ha caducado")
	case notAfter.Sub(now) <= certExpiryWarning:
		days := int(notAfter.Sub(now).Hours() / 24)
		st.Warnings = append(st.Warnings, fmt.Sprintf("el certificado caduca en %d días", days))
	}
	if cert.KeyUsage != 0 && cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		st.Errors = append(st.Errors, "el certificado no permite firma digital")
	}
	st.Valid = len(st.Errors) == 0
	return st
}
