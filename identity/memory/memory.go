// Package memory provides an in-memory identity provider. It is intended
// for tests and single-process deployments; production installs wire the
// host application's own user store instead.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/enovation/moodle-local-oauth2/identity"
)

// Provider is an in-memory identity.Provider backed by bcrypt-hashed
// passwords.
type Provider struct {
	mu        sync.RWMutex
	byName    map[string]*record
	byID      map[int64]*record
	nextID    int64
	hashCost  int
	timeNowFn func() time.Time
}

type record struct {
	user         identity.User
	passwordHash []byte
}

var _ identity.Provider = (*Provider)(nil)

// New creates an empty in-memory provider.
func New() *Provider {
	return &Provider{
		byName:    make(map[string]*record),
		byID:      make(map[int64]*record),
		nextID:    1,
		hashCost:  bcrypt.DefaultCost,
		timeNowFn: time.Now,
	}
}

// Add inserts a fully populated user record with the given plaintext
// password. Existing users with the same username are replaced. Intended
// for seeding test fixtures.
func (p *Provider) Add(user identity.User, password string) (*identity.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if user.ID == 0 {
		user.ID = p.nextID
		p.nextID++
	} else if user.ID >= p.nextID {
		p.nextID = user.ID + 1
	}
	if user.TimeModified == 0 {
		user.TimeModified = p.timeNowFn().Unix()
	}

	rec := &record{user: user, passwordHash: hash}
	p.byName[user.Username] = rec
	p.byID[user.ID] = rec

	u := rec.user
	return &u, nil
}

// UserByUsername retrieves a user by username.
func (p *Provider) UserByUsername(_ context.Context, username string) (*identity.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.byName[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", identity.ErrUserNotFound, username)
	}
	u := rec.user
	return &u, nil
}

// UserByID retrieves a user by numeric id.
func (p *Provider) UserByID(_ context.Context, id int64) (*identity.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", identity.ErrUserNotFound, id)
	}
	u := rec.user
	return &u, nil
}

// VerifyPassword checks the password against the stored bcrypt hash.
func (p *Provider) VerifyPassword(_ context.Context, user *identity.User, password string) (bool, error) {
	if user == nil {
		return false, nil
	}

	p.mu.RLock()
	rec, ok := p.byName[user.Username]
	p.mu.RUnlock()
	if !ok {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(password))
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("comparing password: %w", err)
	}
	return true, nil
}

// CreateUser creates an account with the given username and password.
func (p *Provider) CreateUser(ctx context.Context, username, password string) (*identity.User, error) {
	p.mu.RLock()
	_, exists := p.byName[username]
	p.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("user %s already exists", username)
	}

	return p.Add(identity.User{Username: username}, password)
}

// SetUser creates the account if missing, otherwise updates its password
// and any non-empty name fields.
func (p *Provider) SetUser(_ context.Context, username, password, firstName, lastName string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.hashCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.byName[username]
	if !ok {
		id := p.nextID
		p.nextID++
		rec = &record{user: identity.User{ID: id, Username: username}}
		p.byName[username] = rec
		p.byID[id] = rec
	}

	rec.passwordHash = hash
	if firstName != "" {
		rec.user.FirstName = firstName
	}
	if lastName != "" {
		rec.user.LastName = lastName
	}
	rec.user.TimeModified = p.timeNowFn().Unix()
	return nil
}
