package authority

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kenneth/record-encryption/internal/crypto"
)

// identityHeader carries the authenticated caller identity. In production
// the channel is expected to be authenticated by the surrounding
// application; the header mirrors what that layer would assert.
const identityHeader = "X-Caller-Identity"

// httpClient talks to an authority exposing the HTTP/JSON surface served by
// the simulator and by compatible deployments.
type httpClient struct {
	endpoint string
	identity crypto.Identity
	client   *http.Client
}

// HTTPOptions configures the HTTP authority client.
type HTTPOptions struct {
	// Endpoint is the authority base URL, e.g. "http://localhost:9321".
	Endpoint string
	// Identity is the authenticated caller identity asserted on requests.
	Identity crypto.Identity
	// Timeout bounds each round trip. Zero means 10 seconds.
	Timeout time.Duration
}

// NewHTTPClient creates an authority client over HTTP/JSON.
func NewHTTPClient(opts HTTPOptions) (Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("authority endpoint is required")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &httpClient{
		endpoint: opts.Endpoint,
		identity: opts.Identity,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type envelopeRequest struct {
	ScopeKind          string `json:"scope_kind"`
	TransportPublicKey string `json:"transport_public_key"`
	RecordID           string `json:"record_id,omitempty"`
	Owner              string `json:"owner,omitempty"`
}

type envelopeResponse struct {
	Envelope string `json:"envelope"`
}

type verificationKeyResponse struct {
	VerificationKey string `json:"verification_key"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *httpClient) VerificationKey(ctx context.Context, kind crypto.ScopeKind) (string, error) {
	var resp verificationKeyResponse
	url := fmt.Sprintf("%s/v1/verification-key/%s", c.endpoint, kind)
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return "", err
	}
	return resp.VerificationKey, nil
}

func (c *httpClient) EncryptedKeyEnvelope(ctx context.Context, scope crypto.Scope, transportPublicKey []byte) (string, error) {
	req := envelopeRequest{
		ScopeKind:          string(scope.Kind),
		TransportPublicKey: hex.EncodeToString(transportPublicKey),
	}
	if scope.Kind == crypto.ScopeKindShared {
		req.RecordID = scope.RecordID
		req.Owner = string(scope.Owner)
	}
	var resp envelopeResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint+"/v1/envelope", req, &resp); err != nil {
		return "", err
	}
	return resp.Envelope, nil
}

func (c *httpClient) do(ctx context.Context, method, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(identityHeader, string(c.identity))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("authority request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		var e errorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&e); decodeErr == nil {
			if e.Code == "not_shared" || e.Code == "permission_denied" {
				return fmt.Errorf("%w: %s", ErrPermissionDenied, e.Message)
			}
		}
		if resp.StatusCode == http.StatusForbidden {
			return ErrPermissionDenied
		}
		return fmt.Errorf("authority returned status %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authority returned status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode authority response: %w", err)
	}
	return nil
}
