package peer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/server/auth"
)

// NonceIssuer hands out fresh nonces.
type NonceIssuer interface {
	Issue(ctx context.Context) (string, error)
}

// CredentialMinter produces single-use service credentials: a nonce from the
// nonce service bound into a short-lived signed token.
type CredentialMinter struct {
	nonces NonceIssuer
	signer *auth.ServiceSigner
}

// NewCredentialMinter returns a minter signing with signer.
func NewCredentialMinter(nonces NonceIssuer, signer *auth.ServiceSigner) *CredentialMinter {
	return &CredentialMinter{nonces: nonces, signer: signer}
}

// Mint returns a fresh service credential carrying scopes.
func (m *CredentialMinter) Mint(ctx context.Context, scopes ...string) (string, error) {
	n, err := m.nonces.Issue(ctx)
	if err != nil {
		return "", fmt.Errorf("obtain nonce: %w", err)
	}
	token, err := m.signer.SignService(n, scopes...)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Authorize mints a credential and sets it as the bearer token of req.
func (m *CredentialMinter) Authorize(ctx context.Context, req *http.Request, scopes ...string) error {
	token, err := m.Mint(ctx, scopes...)
	if err != nil {
		return err
	}
	req.Header.Set(common.AuthorizationHeaderName, common.BearerScheme+" "+token)
	return nil
}
