package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/google/uuid"
)

// ProviderVerifier asks the external auth provider who owns a token. One call
// per verification; nothing is cached.
type ProviderVerifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewProviderVerifier(baseURL, apiKey string, client *http.Client, logger *slog.Logger) *ProviderVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &ProviderVerifier{baseURL: baseURL, apiKey: apiKey, client: client, logger: logger}
}

type providerUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Verify returns UNAUTHORIZED when the provider rejects the token and
// INTERNAL when the provider itself fails, so an outage is not reported to
// clients as a bad credential.
func (v *ProviderVerifier) Verify(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, utils.NewUnauthorizedError("missing token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrInternal, "identity provider request failed", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.apiKey != "" {
		req.Header.Set("apikey", v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("Identity provider unreachable", "error", err)
		return nil, utils.NewAppError(utils.ErrInternal, "identity provider unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		v.logger.Warn("Identity provider failed", "status", resp.StatusCode)
		return nil, utils.NewAppError(utils.ErrInternal, "identity provider unavailable",
			fmt.Errorf("provider status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &utils.AppError{
			Code:    utils.ErrUnauthorized,
			Message: "Unauthorized: provider rejected token",
			Origin:  fmt.Errorf("provider status %d", resp.StatusCode),
		}
	}

	var user providerUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
		return nil, utils.NewAppError(utils.ErrInternal, "malformed identity provider response", err)
	}
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return nil, utils.NewUnauthorizedError("invalid user id")
	}
	return &models.Identity{ID: userID, Email: user.Email, Role: user.Role}, nil
}
