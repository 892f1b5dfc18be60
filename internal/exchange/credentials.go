package exchange

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials hold an Advanced Trade API key: the key name and its EC private
// key, as issued in the portal's JSON key file.
type Credentials struct {
	KeyName    string
	PrivateKey *ecdsa.PrivateKey
}

type credentialsFile struct {
	Name       string `json:"name"`
	PrivateKey string `json:"privateKey"`
}

// LoadCredentials reads an Advanced Trade key file (fields "name" and
// "privateKey" in PEM form) from disk.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials file not found: %s (create it with your API key name and private key)", path)
	}

	var f credentialsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	if f.Name == "" || f.PrivateKey == "" {
		return nil, fmt.Errorf("missing \"name\" or \"privateKey\" in %s", path)
	}

	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(f.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key from %s: %w", path, err)
	}

	return &Credentials{KeyName: f.Name, PrivateKey: key}, nil
}
