package users

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	// MinCost keeps the suite fast.
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func newStatic(t *testing.T) *Static {
	t.Helper()
	s, err := NewStatic([]User{{ID: 42, Username: "ada", PasswordHash: mustHash(t, "s3cret")}})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAuthenticate(t *testing.T) {
	s := newStatic(t)
	ctx := context.Background()

	u, err := Authenticate(ctx, s, "ada", "s3cret")
	if err != nil || u.ID != 42 {
		t.Fatalf("Authenticate = %+v, %v", u, err)
	}

	if _, err := Authenticate(ctx, s, "ada", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := Authenticate(ctx, s, "bob", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v", err)
	}
}

type brokenCreds struct{}

func (brokenCreds) FindByUsername(context.Context, string) (User, error) {
	return User{}, errors.New("connection reset")
}

func TestAuthenticateStoreError(t *testing.T) {
	_, err := Authenticate(context.Background(), brokenCreds{}, "ada", "x")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want store error", err)
	}
}

func TestNewStaticRejectsBadEntries(t *testing.T) {
	if _, err := NewStatic([]User{{ID: 1, Username: "ada"}}); err == nil {
		t.Fatal("missing hash accepted")
	}
	h := mustHash(t, "x")
	if _, err := NewStatic([]User{{ID: 1, Username: "ada", PasswordHash: h}, {ID: 2, Username: "ada", PasswordHash: h}}); err == nil {
		t.Fatal("duplicate username accepted")
	}
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(h), []byte("pw")) != nil {
		t.Fatal("hash does not verify")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatal("empty password accepted")
	}
}
