package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

func TestTokenIssuer_AccessToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", 15*time.Minute)
	fixed := time.Now().Truncate(time.Second)
	issuer.now = func() time.Time { return fixed }

	id := directory.Identity{ID: "u1", Identifier: "doc@example.com", AuthMethod: directory.AuthEmail}
	signed, err := issuer.AccessToken(id)
	if err != nil {
		t.Fatal(err)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims["sub"] != "u1" || claims["identifier"] != "doc@example.com" || claims["auth_method"] != "email" {
		t.Errorf("unexpected claims %v", claims)
	}
	if exp, _ := claims.GetExpirationTime(); exp == nil || !exp.Time.Equal(fixed.Add(15*time.Minute)) {
		t.Errorf("unexpected expiry %v", exp)
	}
}

func TestTokenIssuer_WrongSecretRejected(t *testing.T) {
	signed, err := NewTokenIssuer("a", time.Minute).AccessToken(directory.Identity{ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = jwt.Parse(signed, func(*jwt.Token) (interface{}, error) { return []byte("b"), nil })
	if err == nil {
		t.Error("expected signature failure")
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	if got := NormalizeIdentifier("  Doc@Example.COM "); got != "doc@example.com" {
		t.Errorf("got %q", got)
	}
	if directory.MethodFor(NormalizeIdentifier("05551234567")) != directory.AuthMobile {
		t.Error("numeric identifier should be a mobile login")
	}
}
