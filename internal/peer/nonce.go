package peer

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/chatauth/internal/api"
	"github.com/dmitrijs2005/chatauth/internal/common"
)

// NonceClient calls the nonce service. It satisfies principal.NonceConfirmer.
type NonceClient struct {
	c *client
}

// NewNonceClient returns a client for the nonce service at o.BaseURL.
// Issue is retried on availability errors; Confirm never is, since a lost
// answer to a successful confirm would turn the retry into a false replay.
func NewNonceClient(o Options) *NonceClient {
	if o.Retries == 0 {
		o.Retries = defaultRetries
	}
	return &NonceClient{c: newClient("nonce", o)}
}

// Issue obtains a fresh nonce.
func (n *NonceClient) Issue(ctx context.Context) (string, error) {
	resp, err := n.c.do(ctx, request{method: http.MethodPost, path: "/nonce", idempotent: true})
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusCreated && resp.status != http.StatusOK {
		return "", unexpected(resp)
	}

	var out api.NonceResponse
	if err := resp.decode(&out); err != nil {
		return "", err
	}
	if out.Nonce == "" {
		return "", unexpected(resp)
	}
	return out.Nonce, nil
}

// Confirm consumes value.
//
// Errors: common.ErrNonceNotFound (404), common.ErrNonceReused (409),
// common.ErrServiceUnavailable otherwise.
func (n *NonceClient) Confirm(ctx context.Context, value string) error {
	resp, err := n.c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/nonce/confirm",
		jsonBody: api.ConfirmNonceRequest{Nonce: value},
	})
	if err != nil {
		return err
	}

	switch resp.status {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return common.ErrNonceNotFound
	case http.StatusConflict:
		return common.ErrNonceReused
	default:
		return unexpected(resp)
	}
}
