package identity

import (
	"context"
	"encoding/json"
	"strings"

	"mssecurity.org/internal/auth"
	"mssecurity.org/internal/config"
)

type userInfoDocument struct {
	ID        json.Number `json:"id"`
	Sub       string      `json:"sub"`
	Login     string      `json:"login"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	AvatarURL string      `json:"avatar_url"`
	Picture   string      `json:"picture"`
}

type emailEntry struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// userInfo resolves the account behind an OAuth2 access token. When the
// profile hides the email, the primary verified address is read from the
// emails endpoint.
func (c *Client) userInfo(ctx context.Context, cfg config.ProviderConfig, accessToken string) (*auth.Identity, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, auth.NewProviderError(auth.CodeInvalidCredential, "access token missing in token response", nil)
	}
	var doc userInfoDocument
	if err := c.getJSON(ctx, cfg.UserInfoEndpoint, accessToken, &doc); err != nil {
		return nil, err
	}
	uid := strings.TrimSpace(doc.Sub)
	if uid == "" {
		uid = doc.ID.String()
	}
	if uid == "" || uid == "0" {
		return nil, auth.NewProviderError(auth.CodeInvalidCredential, "user profile has no id", nil)
	}

	id := &auth.Identity{
		UID:         uid,
		Email:       strings.TrimSpace(doc.Email),
		DisplayName: firstNonEmpty(doc.Name, doc.Login),
		PhotoURL:    firstNonEmpty(doc.AvatarURL, doc.Picture),
	}
	if id.Email == "" && strings.TrimSpace(cfg.EmailsEndpoint) != "" {
		var emails []emailEntry
		if err := c.getJSON(ctx, cfg.EmailsEndpoint, accessToken, &emails); err == nil {
			id.Email = primaryEmail(emails)
		}
	}
	return id, nil
}

func primaryEmail(emails []emailEntry) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return strings.TrimSpace(e.Email)
		}
	}
	for _, e := range emails {
		if e.Verified {
			return strings.TrimSpace(e.Email)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
