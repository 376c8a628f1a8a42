package roles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/users"
)

// ManagedConfig configures the identity provider client
type ManagedConfig struct {
	APIURL    string
	SecretKey string
	Timeout   time.Duration
}

// ManagedStore keeps roles in the identity provider's private user
// metadata under the "role" key
type ManagedStore struct {
	baseURL string
	client  *http.Client
}

// NewManagedStore creates an identity provider client authenticating with
// the secret key as a bearer token
func NewManagedStore(config ManagedConfig) *ManagedStore {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.SecretKey, TokenType: "Bearer"})
	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = config.Timeout
	if client.Timeout <= 0 {
		client.Timeout = 5 * time.Second
	}
	return &ManagedStore{
		baseURL: strings.TrimRight(config.APIURL, "/"),
		client:  client,
	}
}

type idpUser struct {
	ID              string                 `json:"id"`
	PrivateMetadata map[string]interface{} `json:"private_metadata"`
}

type metadataPatch struct {
	PrivateMetadata map[string]interface{} `json:"private_metadata"`
}

func (s *ManagedStore) Name() string { return "managed" }

// GetRole reads private_metadata.role. A user without a role in their
// metadata is a plain user.
func (s *ManagedStore) GetRole(ctx context.Context, externalID string) (users.GlobalRole, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userURL(externalID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build identity provider request: %w", err)
	}

	var u idpUser
	if err := s.do(req, "roles.ManagedStore.GetRole", &u); err != nil {
		return "", err
	}

	raw, ok := u.PrivateMetadata["role"].(string)
	if !ok || raw == "" {
		return users.RoleUser, nil
	}
	role, err := users.ParseGlobalRole(raw)
	if err != nil {
		return "", apperrors.Internal("roles.ManagedStore.GetRole", err)
	}
	return role, nil
}

// SetRole writes private_metadata.role. The provider merges metadata keys,
// so other private metadata is preserved.
func (s *ManagedStore) SetRole(ctx context.Context, externalID string, role users.GlobalRole) error {
	body, err := json.Marshal(metadataPatch{PrivateMetadata: map[string]interface{}{"role": string(role)}})
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.userURL(externalID)+"/metadata", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build identity provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return s.do(req, "roles.ManagedStore.SetRole", nil)
}

func (s *ManagedStore) userURL(externalID string) string {
	return s.baseURL + "/v1/users/" + url.PathEscape(externalID)
}

func (s *ManagedStore) do(req *http.Request, op string, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.Internal(op, fmt.Errorf("identity provider request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound(op, "user not found at identity provider")
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.Internal(op, fmt.Errorf("identity provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Internal(op, fmt.Errorf("failed to decode identity provider response: %w", err))
	}
	return nil
}
