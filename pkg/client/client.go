// Package client provides authenticated HTTP clients for Google APIs.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// NewServiceAccount creates an HTTP client that signs requests as a service account
// using the two-legged JWT flow. Literal "\n" sequences in privateKey are unescaped,
// which is how PEM keys usually survive environment variables.
func NewServiceAccount(ctx context.Context, email, privateKey string, scope ...string) (*http.Client, error) {
	cfg, err := JWTConfig(email, privateKey, scope...)
	if err != nil {
		return nil, err
	}
	return cfg.Client(ctx), nil
}

// JWTConfig builds the JWT configuration without creating a client.
func JWTConfig(email, privateKey string, scope ...string) (*jwt.Config, error) {
	if email == "" {
		return nil, errors.New("service account email is required")
	}
	if privateKey == "" {
		return nil, errors.New("service account private key is required")
	}

	key := strings.ReplaceAll(privateKey, `\n`, "\n")
	if !strings.Contains(key, "PRIVATE KEY") {
		return nil, fmt.Errorf("service account private key for %s is not PEM encoded", email)
	}

	return &jwt.Config{
		Email:      email,
		PrivateKey: []byte(key),
		Scopes:     scope,
		TokenURL:   google.JWTTokenURL,
	}, nil
}
