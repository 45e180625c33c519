// Package identity defines the contract with the external identity store
// that owns user accounts and password verification. The OAuth2 storage
// engine never reads or writes user rows itself; it delegates every user
// lookup and credential check through the Provider interface.
package identity

import (
	"context"
	"errors"
)

// ErrUserNotFound indicates a lookup on a missing username or user id.
var ErrUserNotFound = errors.New("user not found")

// User is the identity record as the host application stores it. Field
// names follow the host's user table; the claims package maps them onto
// OpenID Connect claim keys.
type User struct {
	ID            int64
	Username      string
	FirstName     string
	LastName      string
	MiddleName    string
	AlternateName string
	Email         string
	// EmailStop is the host's bounce flag: non-zero means mail to this
	// address is suppressed, which the claims layer treats as unverified.
	EmailStop    int
	Address      string
	City         string
	Country      string
	Timezone     string
	Lang         string
	URL          string
	Phone1       string
	Phone2       string
	TimeModified int64 // unix timestamp of last profile modification, 0 if never
}

// FullName returns the user's formatted full name.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// Field returns the raw value of a user field by its host-application
// column name. It backs the claims mapper's fallback for claim keys that
// have no dedicated mapping. The second return is false for unknown names.
func (u *User) Field(name string) (any, bool) {
	switch name {
	case "id":
		return u.ID, true
	case "username":
		return u.Username, true
	case "firstname":
		return u.FirstName, true
	case "lastname":
		return u.LastName, true
	case "middlename":
		return u.MiddleName, true
	case "alternatename":
		return u.AlternateName, true
	case "email":
		return u.Email, true
	case "emailstop":
		return u.EmailStop, true
	case "address":
		return u.Address, true
	case "city":
		return u.City, true
	case "country":
		return u.Country, true
	case "timezone":
		return u.Timezone, true
	case "lang":
		return u.Lang, true
	case "url":
		return u.URL, true
	case "phone1":
		return u.Phone1, true
	case "phone2":
		return u.Phone2, true
	case "timemodified":
		return u.TimeModified, true
	default:
		return nil, false
	}
}

// Provider is the external identity store. All methods accept
// context.Context for tracing and cancellation.
type Provider interface {
	// UserByUsername retrieves a user by username.
	// Returns ErrUserNotFound if no such user exists.
	UserByUsername(ctx context.Context, username string) (*User, error)

	// UserByID retrieves a user by numeric id.
	// Returns ErrUserNotFound if no such user exists.
	UserByID(ctx context.Context, id int64) (*User, error)

	// VerifyPassword checks a password against the user's stored
	// credential. It reports false for a wrong password; an error means
	// the check itself could not be performed.
	VerifyPassword(ctx context.Context, user *User, password string) (bool, error)

	// CreateUser creates an account with the given username and password
	// and returns the new record.
	CreateUser(ctx context.Context, username, password string) (*User, error)

	// SetUser creates the account if missing, otherwise updates its
	// password and any non-empty name fields.
	SetUser(ctx context.Context, username, password, firstName, lastName string) error
}
