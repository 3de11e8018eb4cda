package auth

import (
	"context"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"onebreath/pkg/domain"
)

// tokenVerifier is the subset of the Firebase auth client used here.
type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// Firebase verifies Firebase ID tokens. The "admin" custom claim grants admin.
type Firebase struct {
	client tokenVerifier
}

// NewFirebase initializes the Admin SDK from a service account file. An empty
// credentialsFile uses application default credentials.
func NewFirebase(ctx context.Context, projectID, credentialsFile string) (*Firebase, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "init firebase", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "init firebase auth", err)
	}
	return &Firebase{client: client}, nil
}

// Verify implements Verifier.
func (f *Firebase) Verify(ctx context.Context, token string) (Identity, error) {
	decoded, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return Identity{}, domain.Wrap(domain.KindUnauthorized, "verify token", err)
	}
	id := Identity{UID: decoded.UID}
	if email, ok := decoded.Claims["email"].(string); ok {
		id.Email = email
	}
	if admin, ok := decoded.Claims["admin"].(bool); ok {
		id.Admin = admin
	}
	return id, nil
}
