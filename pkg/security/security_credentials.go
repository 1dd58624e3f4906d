// pkg/security/security_credentials.go
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// GenerateSecurityCredential encrypts the B2C initiator password with the
// gateway certificate at certPath.
func GenerateSecurityCredential(certPath, initiatorPassword string) (string, error) {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return "", fmt.Errorf("failed to read certificate: %w", err)
	}
	return SecurityCredentialFromPEM(certData, initiatorPassword)
}

// SecurityCredentialFromPEM is GenerateSecurityCredential for a certificate
// already in memory.
func SecurityCredentialFromPEM(certData []byte, initiatorPassword string) (string, error) {
	if initiatorPassword == "" {
		return "", fmt.Errorf("initiator password is empty")
	}

	block, _ := pem.Decode(certData)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	publicKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("certificate does not contain RSA public key")
	}

	encryptedPassword, err := rsa.EncryptPKCS1v15(rand.Reader, publicKey, []byte(initiatorPassword))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt password: %w", err)
	}

	return base64.StdEncoding.EncodeToString(encryptedPassword), nil
}
