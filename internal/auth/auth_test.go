package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	fbauth "firebase.google.com/go/v4/auth"

	"onebreath/internal/config"
	"onebreath/pkg/domain"
)

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"valid":   {header: "Bearer abc", want: "abc", ok: true},
		"missing": {header: ""},
		"scheme":  {header: "Basic abc"},
		"empty":   {header: "Bearer   "},
	}
	for name, tc := range cases {
		req := httptest.NewRequest("GET", "/samples", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got, err := BearerToken(req)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("%s: expected %q, got %q (%v)", name, tc.want, got, err)
			}
			continue
		}
		if domain.KindOf(err) != domain.KindUnauthorized {
			t.Fatalf("%s: expected unauthorized, got %v", name, err)
		}
	}
}

func TestStaticVerifier(t *testing.T) {
	v := NewStatic(map[string]string{"tok-1": "user-1"}).Add("tok-admin", Identity{UID: "root", Admin: true})

	id, err := v.Verify(context.Background(), "tok-1")
	if err != nil || id.UID != "user-1" || id.Admin {
		t.Fatalf("unexpected identity %+v (%v)", id, err)
	}
	id, err = v.Verify(context.Background(), "tok-admin")
	if err != nil || !id.Admin {
		t.Fatalf("expected admin identity, got %+v (%v)", id, err)
	}
	if _, err := v.Verify(context.Background(), "nope"); domain.KindOf(err) != domain.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestWithAdminsPromotesConfiguredUIDs(t *testing.T) {
	v := WithAdmins(NewStatic(map[string]string{"a": "alice", "b": "bob"}), []string{" alice ", ""})
	alice, err := v.Verify(context.Background(), "a")
	if err != nil || !alice.Admin {
		t.Fatalf("alice should be admin: %+v (%v)", alice, err)
	}
	bob, err := v.Verify(context.Background(), "b")
	if err != nil || bob.Admin {
		t.Fatalf("bob should not be admin: %+v (%v)", bob, err)
	}
	if _, err := v.Verify(context.Background(), "c"); err == nil {
		t.Fatalf("unknown token should fail")
	}
}

type fakeTokenVerifier struct {
	token *fbauth.Token
	err   error
}

func (f fakeTokenVerifier) VerifyIDToken(context.Context, string) (*fbauth.Token, error) {
	return f.token, f.err
}

func TestFirebaseVerify(t *testing.T) {
	fb := &Firebase{client: fakeTokenVerifier{token: &fbauth.Token{
		UID:    "uid-7",
		Claims: map[string]interface{}{"email": "lab@example.com", "admin": true},
	}}}
	id, err := fb.Verify(context.Background(), "id-token")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != (Identity{UID: "uid-7", Email: "lab@example.com", Admin: true}) {
		t.Fatalf("unexpected identity %+v", id)
	}

	fb = &Firebase{client: fakeTokenVerifier{token: &fbauth.Token{UID: "uid-8", Claims: map[string]interface{}{"admin": "yes"}}}}
	id, err = fb.Verify(context.Background(), "id-token")
	if err != nil || id.Admin {
		t.Fatalf("non-bool admin claim must not grant admin: %+v (%v)", id, err)
	}

	fb = &Firebase{client: fakeTokenVerifier{err: errors.New("token expired")}}
	if _, err := fb.Verify(context.Background(), "id-token"); domain.KindOf(err) != domain.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	v, err := FromConfig(context.Background(), config.AuthConfig{
		Driver:       "static",
		StaticTokens: map[string]string{"dev": "developer"},
		Admins:       []string{"developer"},
	})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	id, err := v.Verify(context.Background(), "dev")
	if err != nil || !id.Admin {
		t.Fatalf("expected admin developer, got %+v (%v)", id, err)
	}
	if _, err := FromConfig(context.Background(), config.AuthConfig{Driver: "ldap"}); domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("expected invalid driver error, got %v", err)
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("empty context has no identity")
	}
	ctx := WithIdentity(context.Background(), Identity{UID: "u"})
	if id, ok := FromContext(ctx); !ok || id.UID != "u" {
		t.Fatalf("identity not round-tripped: %+v", id)
	}
}
