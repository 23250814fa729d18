package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims(TokenAccess, "usr_1", "Avery", "avery@example.com", "member", "jti-1", time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued, TokenAccess)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "usr_1" || claims.Name != "Avery" || claims.Role != "member" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejections(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()

	expired, _ := IssueToken(secret, NewClaims(TokenAccess, "usr_1", "Avery", "a@example.com", "member", "jti-1", now.Add(-2*time.Hour), time.Hour))
	refresh, _ := IssueToken(secret, NewClaims(TokenRefresh, "usr_1", "Avery", "a@example.com", "member", "jti-2", now, time.Hour))
	foreign, _ := IssueToken([]byte("other"), NewClaims(TokenAccess, "usr_1", "Avery", "a@example.com", "member", "jti-3", now, time.Hour))

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "expired", token: expired, want: ErrExpiredToken},
		{name: "wrong type", token: refresh, want: ErrInvalidToken},
		{name: "wrong secret", token: foreign, want: ErrInvalidToken},
		{name: "garbage", token: "not.a.token", want: ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseToken(secret, tc.token, TokenAccess); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestInviteRoundTrip(t *testing.T) {
	secret := []byte("invite-secret")
	claims := InviteClaims{ProjectID: "prj_1", Email: "b@example.com", Role: "manager", InvitedBy: "usr_1"}
	claims.ExpiresAt = NewClaims(TokenInvite, "", "", "", "", "", time.Now(), time.Hour).ExpiresAt

	token, err := IssueInvite(secret, claims)
	if err != nil {
		t.Fatalf("IssueInvite() error = %v", err)
	}
	got, err := ParseInvite(secret, token)
	if err != nil {
		t.Fatalf("ParseInvite() error = %v", err)
	}
	if got.ProjectID != "prj_1" || got.Email != "b@example.com" || got.Role != "manager" {
		t.Fatalf("unexpected invite claims %+v", got)
	}

	access, _ := IssueToken(secret, NewClaims(TokenAccess, "usr_1", "A", "a@example.com", "member", "jti", time.Now(), time.Hour))
	if _, err := ParseInvite(secret, access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token must not parse as invite, got %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") || HashToken("abc") == HashToken("abd") {
		t.Fatalf("HashToken must be deterministic and distinguishing")
	}
}
