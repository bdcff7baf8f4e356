package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestIssueParse(t *testing.T) {
	iss, err := NewIssuer(secret, "esport-cms", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	raw, issued, err := iss.Issue("u1", "zywoo", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.SessionID() == "" {
		t.Fatal("jti should be set")
	}

	claims, err := iss.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "u1" || claims.Username != "zywoo" || claims.Role != "admin" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.SessionID() != issued.SessionID() {
		t.Errorf("jti = %q, want %q", claims.SessionID(), issued.SessionID())
	}
}

func TestParseRejects(t *testing.T) {
	iss, _ := NewIssuer(secret, "esport-cms", time.Hour)
	raw, _, _ := iss.Issue("u1", "zywoo", "member")

	other, _ := NewIssuer([]byte("ffffffffffffffffffffffffffffffff"), "esport-cms", time.Hour)
	if _, err := other.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: err = %v", err)
	}

	wrongIssuer, _ := NewIssuer(secret, "someone-else", time.Hour)
	if _, err := wrongIssuer.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong issuer: err = %v", err)
	}

	if _, err := iss.Parse("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: err = %v", err)
	}
}

func TestParseExpired(t *testing.T) {
	iss, _ := NewIssuer(secret, "esport-cms", time.Minute)
	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	raw, _, err := iss.Issue("u1", "zywoo", "member")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	iss.now = time.Now
	if _, err := iss.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired: err = %v", err)
	}
}

func TestParseRejectsNoneAlgorithm(t *testing.T) {
	iss, _ := NewIssuer(secret, "", time.Hour)
	claims := &Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{
		ID:        "s1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := iss.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("none alg: err = %v", err)
	}
}

func TestNewIssuerValidation(t *testing.T) {
	if _, err := NewIssuer(nil, "x", time.Hour); err == nil {
		t.Error("empty secret should fail")
	}
	if _, err := NewIssuer(secret, "x", 0); err == nil {
		t.Error("zero ttl should fail")
	}
}
