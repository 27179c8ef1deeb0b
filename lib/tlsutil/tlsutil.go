// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package tlsutil generates, persists and loads the self-signed key
// material used by the secure control server.
package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"
)

const (
	DefaultKeyBits  = 2048
	DefaultValidity = 10 * 365 * 24 * time.Hour
)

var (
	ErrPartialInstall = errors.New("exactly one of the private key and certificate files exists")
	ErrNoPassword     = errors.New("private key is encrypted but no password is configured")
)

// oidEmailAddress is the PKCS #9 emailAddress attribute.
var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// TLSConfigurationError is returned when the key or certificate cannot be
// loaded, including when the key password is wrong.
type TLSConfigurationError struct {
	Err error
}

func (e *TLSConfigurationError) Error() string {
	return fmt.Sprintf("TLS configuration: %v", e.Err)
}

func (e *TLSConfigurationError) Unwrap() error {
	return e.Err
}

// CertificateOptions are the parameters of a generated certificate. The
// serial number is fixed as there is only ever one certificate per
// installation.
type CertificateOptions struct {
	KeyBits            int
	CommonName         string
	Organization       string
	OrganizationalUnit string
	Country            string
	Province           string
	Locality           string
	EmailAddress       string
	SerialNumber       int64
	// Validity window, relative to the time of generation.
	NotBefore time.Duration
	NotAfter  time.Duration
}

func DefaultCertificateOptions() CertificateOptions {
	return CertificateOptions{
		KeyBits:            DefaultKeyBits,
		CommonName:         "localhost",
		Organization:       "Pipe2phone",
		OrganizationalUnit: "Default",
		Country:            "US",
		Province:           "New York",
		Locality:           "New York City",
		EmailAddress:       "root@localhost",
		SerialNumber:       0,
		NotBefore:          0,
		NotAfter:           DefaultValidity,
	}
}

// KeyMaterial is the key pair the secure server runs with, together with
// the certificate file content that is handed out for installation.
type KeyMaterial struct {
	KeyFile     string
	CertFile    string
	CertPEM     []byte
	Certificate tls.Certificate
	// Generated is true when the files were created by this process.
	Generated bool
}

// Fingerprint is the hex encoded SHA-256 of the certificate file.
func (k *KeyMaterial) Fingerprint() string {
	return Fingerprint(k.CertPEM)
}

// Fingerprint returns the lower case hex SHA-256 of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EnsureKeyMaterial returns the key material stored in keyFile and
// certFile. If neither file exists a new key and self-signed certificate
// are generated and written first. Existing files are never overwritten or
// validated beyond loading them.
func EnsureKeyMaterial(keyFile, certFile, password string, opts CertificateOptions) (*KeyMaterial, error) {
	keyExists, err := exists(keyFile)
	if err != nil {
		return nil, err
	}
	certExists, err := exists(certFile)
	if err != nil {
		return nil, err
	}

	switch {
	case keyExists && certExists:
		return LoadKeyMaterial(keyFile, certFile, password)

	case keyExists != certExists:
		return nil, fmt.Errorf("%w (key %s: %v, certificate %s: %v)", ErrPartialInstall, keyFile, keyExists, certFile, certExists)
	}

	l.Infoln("Generating private key and certificate, this might take a moment...")
	certPEM, keyPEM, err := NewCertificate(opts)
	if err != nil {
		return nil, err
	}
	if err := writeExclusive(keyFile, keyPEM); err != nil {
		return nil, fmt.Errorf("save key: %w", err)
	}
	l.Infoln("Created private key in", keyFile)
	if err := writeExclusive(certFile, certPEM); err != nil {
		// A key without its certificate would block every later start.
		if rmErr := os.Remove(keyFile); rmErr != nil {
			l.Warnln("Removing private key after failed install:", rmErr)
		}
		return nil, fmt.Errorf("save cert: %w", err)
	}
	l.Infoln("Created certificate in", certFile)

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, &TLSConfigurationError{err}
	}
	return &KeyMaterial{
		KeyFile:     keyFile,
		CertFile:    certFile,
		CertPEM:     certPEM,
		Certificate: cert,
		Generated:   true,
	}, nil
}

// NewCertificate generates an RSA key and a certificate for it, signed by
// the key itself with SHA-512. Both are returned PEM encoded.
func NewCertificate(opts CertificateOptions) (certPEM, keyPEM []byte, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, opts.KeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}

	subject := pkix.Name{
		CommonName: opts.CommonName,
	}
	if opts.Organization != "" {
		subject.Organization = []string{opts.Organization}
	}
	if opts.OrganizationalUnit != "" {
		subject.OrganizationalUnit = []string{opts.OrganizationalUnit}
	}
	if opts.Country != "" {
		subject.Country = []string{opts.Country}
	}
	if opts.Province != "" {
		subject.Province = []string{opts.Province}
	}
	if opts.Locality != "" {
		subject.Locality = []string{opts.Locality}
	}
	if opts.EmailAddress != "" {
		subject.ExtraNames = []pkix.AttributeTypeAndValue{{Type: oidEmailAddress, Value: opts.EmailAddress}}
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:       big.NewInt(opts.SerialNumber),
		Subject:            subject,
		Issuer:             subject,
		NotBefore:          now.Add(opts.NotBefore),
		NotAfter:           now.Add(opts.NotAfter),
		SignatureAlgorithm: x509.SHA512WithRSA,

		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("create cert: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return certPEM, keyPEM, nil
}

// LoadKeyMaterial loads an existing key pair. An encrypted PEM key is
// decrypted with password.
func LoadKeyMaterial(keyFile, certFile, password string) (*KeyMaterial, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, &TLSConfigurationError{fmt.Errorf("load cert: %w", err)}
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, &TLSConfigurationError{fmt.Errorf("load key: %w", err)}
	}
	keyPEM, err = decryptKey(keyPEM, password)
	if err != nil {
		return nil, &TLSConfigurationError{fmt.Errorf("load key %s: %w", keyFile, err)}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, &TLSConfigurationError{fmt.Errorf("load key pair: %w", err)}
	}
	return &KeyMaterial{
		KeyFile:     keyFile,
		CertFile:    certFile,
		CertPEM:     certPEM,
		Certificate: cert,
	}, nil
}

func decryptKey(keyPEM []byte, password string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("no PEM data found")
	}
	if block.Type == "ENCRYPTED PRIVATE KEY" {
		return nil, errors.New("encrypted PKCS #8 keys are not supported; use a legacy encrypted PEM key")
	}
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	if password == "" {
		return nil, ErrNoPassword
	}
	der, err := x509.DecryptPEMBlock(block, []byte(password))
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

// ServerConfig returns the TLS configuration of the secure server.
func ServerConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
	}
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// writeExclusive creates path with owner only permissions. It fails
// rather than overwrite an existing file.
func writeExclusive(path string, data []byte) error {
	fd, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := fd.Write(data); err != nil {
		fd.Close()
		os.Remove(path)
		return err
	}
	if err := fd.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
