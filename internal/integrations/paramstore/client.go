// Package paramstore loads deployment secrets from AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"strings"
	"sync"

	"devsquad-chat/internal/config"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/pkg/errors"
)

// ssmAPI is the subset of *ssm.Client the secret store calls.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretSource resolves a named secret.
type SecretSource interface {
	Secret(ctx context.Context, name string) (string, error)
}

// Store reads SecureString parameters and remembers each value after the
// first successful read.
type Store struct {
	api ssmAPI

	mu    sync.Mutex
	cache map[string]string
}

// New wraps an SSM client.
func New(api ssmAPI) (*Store, error) {
	if api == nil {
		return nil, errors.New("paramstore: ssm client is nil")
	}
	return &Store{api: api, cache: make(map[string]string)}, nil
}

// Secret returns the decrypted value of the parameter called name.
func (s *Store) Secret(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: parameter name is empty")
	}

	s.mu.Lock()
	if value, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return value, nil
	}
	s.mu.Unlock()

	decrypt := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return "", errors.Wrapf(err, "paramstore: get %q", name)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", errors.Errorf("paramstore: %q has no value", name)
	}

	s.mu.Lock()
	s.cache[name] = *out.Parameter.Value
	s.mu.Unlock()
	return *out.Parameter.Value, nil
}

// ResolveJWTSecret replaces auth.JWTSecret with the value of
// AUTH_JWT_SECRET_PARAM when that parameter is configured. Without it the
// inline AUTH_JWT_SECRET is kept.
func ResolveJWTSecret(ctx context.Context, source SecretSource, auth *config.AuthConfig) error {
	if auth.JWTSecretParam == "" {
		return nil
	}
	if source == nil {
		return errors.New("paramstore: AUTH_JWT_SECRET_PARAM set but no secret source available")
	}
	secret, err := source.Secret(ctx, auth.JWTSecretParam)
	if err != nil {
		return errors.Wrap(err, "resolve jwt secret")
	}
	auth.JWTSecret = secret
	return nil
}
