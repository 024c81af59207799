package users

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type User struct {
	ID           int64
	Username     string
	PasswordHash string
}

// Credentials looks up users by name. Implementations return ErrNotFound
// for an unknown name.
type Credentials interface {
	FindByUsername(ctx context.Context, username string) (User, error)
}

// dummyHash is compared against when the user is unknown so both failure
// paths spend the same bcrypt work.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("gateguard-dummy"), bcrypt.DefaultCost)

// Authenticate checks password against the stored hash for username.
// Unknown user and wrong password both return ErrInvalidCredentials.
func Authenticate(ctx context.Context, creds Credentials, username, password string) (User, error) {
	u, err := creds.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Static serves a fixed user list, typically from config.
type Static struct {
	byName map[string]User
}

func NewStatic(list []User) (*Static, error) {
	s := &Static{byName: make(map[string]User, len(list))}
	for _, u := range list {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("user %d: username and password hash required", u.ID)
		}
		if _, dup := s.byName[u.Username]; dup {
			return nil, fmt.Errorf("user %q: duplicate username", u.Username)
		}
		s.byName[u.Username] = u
	}
	return s, nil
}

func (s *Static) FindByUsername(_ context.Context, username string) (User, error) {
	u, ok := s.byName[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
