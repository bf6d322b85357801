package transport

import (
	"context"
	"time"

	"github.com/drblury/contractflow/internal/runtime/access"
	"github.com/drblury/contractflow/internal/runtime/ids"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

// Fixed credentials accepted by TestAuthenticator.
const (
	TestUsername = "test"
	TestPassword = "password"
)

// TestTokenTTL is the lifetime of tokens issued by TestAuthenticator.
const TestTokenTTL = time.Hour

// TestAuthenticator accepts only TestUsername/TestPassword and issues an
// opaque token for a "user" actor.
func TestAuthenticator(_ context.Context, creds Credentials) (AuthResult, error) {
	if creds.Username != TestUsername || creds.Password != TestPassword {
		return AuthResult{}, msgerr.New(msgerr.CodeLoginFailed)
	}
	actor := access.NewActor(creds.Username, "user", "user")
	return AuthResult{
		Token:     "test-token-" + ids.CreateULID(),
		Actor:     &actor,
		ExpiresAt: time.Now().Add(TestTokenTTL).UTC(),
	}, nil
}
