package auth

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testIdentity() Identity {
	return Identity{Sub: "user-1", Name: "Avery", PreferredUsername: "avery", Groups: []string{"fsr"}}
}

func TestIssueAndParseUserToken(t *testing.T) {
	secret := []byte("secret")
	issued, claims, err := IssueUserToken(secret, testIdentity(), testNow, ClaimTTL)
	if err != nil {
		t.Fatalf("IssueUserToken() error = %v", err)
	}
	if claims.ID == "" {
		t.Fatal("expected claim id")
	}
	parsed, err := ParseUserToken(secret, issued, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("ParseUserToken() error = %v", err)
	}
	identity := parsed.Identity()
	if identity.Sub != "user-1" || identity.PreferredUsername != "avery" || len(identity.Groups) != 1 {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if identity.Exp != testNow.Add(ClaimTTL).Unix() {
		t.Fatalf("unexpected exp: %d", identity.Exp)
	}
}

func TestParseUserTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, _, err := IssueUserToken(secret, testIdentity(), testNow, ClaimTTL)
	if err != nil {
		t.Fatalf("IssueUserToken() error = %v", err)
	}
	_, err = ParseUserToken(secret, issued, testNow.Add(ClaimTTL+time.Second))
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseUserTokenRejectsWrongSecret(t *testing.T) {
	issued, _, err := IssueUserToken([]byte("secret"), testIdentity(), testNow, ClaimTTL)
	if err != nil {
		t.Fatalf("IssueUserToken() error = %v", err)
	}
	if _, err := ParseUserToken([]byte("other"), issued, testNow); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseUserToken([]byte("secret"), "garbage", testNow); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestNearExpiry(t *testing.T) {
	_, claims, err := IssueUserToken([]byte("secret"), testIdentity(), testNow, ClaimTTL)
	if err != nil {
		t.Fatalf("IssueUserToken() error = %v", err)
	}
	if claims.NearExpiry(testNow.Add(ClaimTTL-RefreshSkew-time.Second), RefreshSkew) {
		t.Fatal("claim should be usable just outside the skew window")
	}
	if !claims.NearExpiry(testNow.Add(ClaimTTL-RefreshSkew), RefreshSkew) {
		t.Fatal("claim should need refresh inside the skew window")
	}
}
