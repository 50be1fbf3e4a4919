// Package supabase resolves Supabase Auth access tokens to user IDs.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nedpals/supabase-go"
)

var (
	// ErrMissingToken is returned when no access token was presented
	ErrMissingToken = errors.New("missing access token")

	// ErrInvalidToken is returned when Supabase Auth rejects the token
	ErrInvalidToken = errors.New("invalid access token")
)

// UserLookup returns the user an access token was issued to.
// supabase.Client.Auth satisfies it.
type UserLookup interface {
	User(ctx context.Context, userToken string) (*supabase.User, error)
}

// Verifier resolves bearer tokens through Supabase Auth
type Verifier struct {
	auth UserLookup
}

// NewVerifier creates a Verifier for the given project
func NewVerifier(url, apiKey string) (*Verifier, error) {
	if url == "" || apiKey == "" {
		return nil, fmt.Errorf("supabase url and api key are required")
	}
	client := supabase.CreateClient(url, apiKey)
	if client == nil {
		return nil, fmt.Errorf("failed to create supabase client")
	}
	return &Verifier{auth: client.Auth}, nil
}

// NewVerifierWithLookup wraps an existing lookup
func NewVerifierWithLookup(auth UserLookup) *Verifier {
	return &Verifier{auth: auth}
}

// VerifyCaller returns the ID of the user token belongs to
func (v *Verifier) VerifyCaller(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}

	user, err := v.auth.User(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if user == nil || user.ID == "" {
		return "", ErrInvalidToken
	}
	return user.ID, nil
}
