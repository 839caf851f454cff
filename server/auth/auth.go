// credential verification, the collaborator form actions call to log users in or register them
package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyCredentials = errors.New("auth: empty username or password")
	ErrUserExists       = errors.New("auth: user already exists")
)

// Verifier checks a login or registers a new user.
// With login set it reports whether password matches the stored one,
// otherwise it stores the user and reports whether the name was free.
// A false result with a nil error is an ordinary rejection.
type Verifier interface {
	Verify(ctx context.Context, username, password string, login bool) (bool, error)
}

// out of range costs fall back to bcrypt.DefaultCost
func normalizeCost(cost int) int {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return cost
}

func hashPassword(password string, cost int) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

func matchPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
