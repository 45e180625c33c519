package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/enovation/moodle-local-oauth2/events"
	"github.com/enovation/moodle-local-oauth2/instrumentation"
	"github.com/enovation/moodle-local-oauth2/storage"
)

// backendName identifies this implementation in metrics and spans
const backendName = "memory"

// Store is an in-memory implementation of all storage interface groups.
type Store struct {
	mu sync.RWMutex

	clients       map[string]storage.Client
	accessTokens  map[string]storage.AccessToken
	authCodes     map[string]storage.AuthorizationCode
	refreshTokens map[string]storage.RefreshToken
	scopes        map[string]storage.Scope
	signingKeys   map[string]storage.SigningKey // keyed by client_id, "" = default
	clientKeys    map[clientKeyID]string        // JWT bearer public keys

	sink   events.Sink
	logger *slog.Logger

	// Instrumentation
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	accessTokensCountAtomic  atomic.Int64
	refreshTokensCountAtomic atomic.Int64
	authCodesCountAtomic     atomic.Int64
	clientsCountAtomic       atomic.Int64
}

type clientKeyID struct {
	clientID string
	subject  string
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.Store                  = (*Store)(nil)
	_ storage.ClientStore            = (*Store)(nil)
	_ storage.AccessTokenStore       = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.RefreshTokenStore      = (*Store)(nil)
	_ storage.ScopeStore             = (*Store)(nil)
	_ storage.KeyStore               = (*Store)(nil)
	_ storage.JTIStore               = (*Store)(nil)
)

// New creates an empty in-memory store. Events are discarded until a sink is
// set with SetSink.
func New() *Store {
	return &Store{
		clients:       make(map[string]storage.Client),
		accessTokens:  make(map[string]storage.AccessToken),
		authCodes:     make(map[string]storage.AuthorizationCode),
		refreshTokens: make(map[string]storage.RefreshToken),
		scopes:        make(map[string]storage.Scope),
		signingKeys:   make(map[string]storage.SigningKey),
		clientKeys:    make(map[clientKeyID]string),
		sink:          events.NopSink{},
		logger:        slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetSink sets the event sink notified on access token creation and update
func (s *Store) SetSink(sink events.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink != nil {
		s.sink = sink
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.inst = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	// Initialize atomic counters with current counts
	s.accessTokensCountAtomic.Store(int64(len(s.accessTokens)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	s.authCodesCountAtomic.Store(int64(len(s.authCodes)))
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.accessTokensCountAtomic.Load() },
			func() int64 { return s.refreshTokensCountAtomic.Load() },
			func() int64 { return s.authCodesCountAtomic.Load() },
			func() int64 { return s.clientsCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// startSpan starts a storage span when instrumentation is configured.
// Returns a no-op span otherwise, so span.End() is always safe to defer.
func (s *Store) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := s.tracer.Start(ctx, "storage."+op)
	instrumentation.AddStorageAttributes(span, op, backendName)
	return ctx, span
}

// record finishes span status and metric recording for an operation
func (s *Store) record(ctx context.Context, span trace.Span, op string, err error, start time.Time) {
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	if s.inst != nil {
		s.inst.Metrics().RecordStorageOperation(ctx, backendName, op, err, start)
	}
}

// ============================================================
// ClientStore Implementation
// ============================================================

// GetClient retrieves a client by its client_id
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startSpan(ctx, "get_client")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "get_client", err, start) }()

	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("client %q: %w", clientID, storage.ErrNotFound)
		return nil, err
	}
	return &client, nil
}

// SaveClient creates or updates a client record
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startSpan(ctx, "save_client")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "save_client", err, start) }()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("client_id cannot be empty")
		return err
	}

	s.mu.Lock()
	_, existed := s.clients[client.ClientID]
	s.clients[client.ClientID] = *client
	s.mu.Unlock()

	if !existed {
		s.clientsCountAtomic.Add(1)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID, "updated", existed)
	return nil
}

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// GetAccessToken retrieves an access token by its opaque value
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "get_access_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "get_access_token", err, start) }()

	s.mu.RLock()
	rec, ok := s.accessTokens[token]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("access token: %w", storage.ErrNotFound)
		return nil, err
	}
	return &rec, nil
}

// SaveAccessToken creates or updates an access token and publishes the
// matching created/updated event
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startSpan(ctx, "save_access_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "save_access_token", err, start) }()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("access token value cannot be empty")
		return err
	}

	s.mu.Lock()
	_, existed := s.accessTokens[token.Token]
	s.accessTokens[token.Token] = *token
	sink := s.sink
	s.mu.Unlock()

	if existed {
		sink.Publish(ctx, events.NewAccessTokenUpdated(token.UserID, token.ClientID, token.Scope, token.Token, token.Expires))
	} else {
		s.accessTokensCountAtomic.Add(1)
		if s.inst != nil {
			s.inst.Metrics().AccessTokensIssued.Add(ctx, 1)
		}
		sink.Publish(ctx, events.NewAccessTokenCreated(token.UserID, token.ClientID, token.Scope, token.Token, token.Expires))
	}

	s.logger.Debug("Saved access token",
		"client_id", token.ClientID,
		"user_id", token.UserID,
		"updated", existed)
	return nil
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// GetAuthorizationCode retrieves an authorization code by its opaque value
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startSpan(ctx, "get_authorization_code")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "get_authorization_code", err, start) }()

	s.mu.RLock()
	rec, ok := s.authCodes[code]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("authorization code: %w", storage.ErrNotFound)
		return nil, err
	}
	return &rec, nil
}

// SaveAuthorizationCode creates or updates an authorization code, including
// its optional id_token and PKCE fields
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startSpan(ctx, "save_authorization_code")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "save_authorization_code", err, start) }()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("authorization code value cannot be empty")
		return err
	}

	s.mu.Lock()
	_, existed := s.authCodes[code.Code]
	s.authCodes[code.Code] = *code
	s.mu.Unlock()

	if !existed {
		s.authCodesCountAtomic.Add(1)
	}

	s.logger.Debug("Saved authorization code",
		"client_id", code.ClientID,
		"user_id", code.UserID,
		"has_id_token", code.IDToken != "")
	return nil
}

// ExpireAuthorizationCode deletes an authorization code. Expiring a missing
// code is not an error.
func (s *Store) ExpireAuthorizationCode(ctx context.Context, code string) error {
	ctx, span := s.startSpan(ctx, "expire_authorization_code")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "expire_authorization_code", err, start) }()

	s.mu.Lock()
	_, existed := s.authCodes[code]
	delete(s.authCodes, code)
	s.mu.Unlock()

	if existed {
		s.authCodesCountAtomic.Add(-1)
		if s.inst != nil {
			s.inst.Metrics().AuthorizationCodesExpired.Add(ctx, 1)
		}
	}

	s.logger.Debug("Expired authorization code", "existed", existed)
	return nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// GetRefreshToken retrieves a refresh token by its opaque value
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	ctx, span := s.startSpan(ctx, "get_refresh_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "get_refresh_token", err, start) }()

	s.mu.RLock()
	rec, ok := s.refreshTokens[token]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("refresh token: %w", storage.ErrNotFound)
		return nil, err
	}
	return &rec, nil
}

// SaveRefreshToken inserts a new refresh token. A token value that already
// exists is a conflict: refresh token values are never reused across rows.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startSpan(ctx, "save_refresh_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "save_refresh_token", err, start) }()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("refresh token value cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.Token]; exists {
		err = fmt.Errorf("refresh token: %w", storage.ErrConflict)
		return err
	}

	s.refreshTokens[token.Token] = *token
	s.refreshTokensCountAtomic.Add(1)

	s.logger.Debug("Saved refresh token",
		"client_id", token.ClientID,
		"user_id", token.UserID)
	return nil
}

// UnsetRefreshToken deletes a refresh token after rotation. A token that is
// already gone returns ErrNotFound; callers treat any error here as fatal
// because an unrotated refresh token is a security issue.
func (s *Store) UnsetRefreshToken(ctx context.Context, token string) error {
	ctx, span := s.startSpan(ctx, "unset_refresh_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "unset_refresh_token", err, start) }()

	s.mu.Lock()
	_, existed := s.refreshTokens[token]
	delete(s.refreshTokens, token)
	s.mu.Unlock()

	if !existed {
		err = fmt.Errorf("refresh token: %w", storage.ErrNotFound)
		return err
	}

	s.refreshTokensCountAtomic.Add(-1)
	if s.inst != nil {
		s.inst.Metrics().RefreshTokensUnset.Add(ctx, 1)
	}
	s.logger.Debug("Unset refresh token")
	return nil
}

// ============================================================
// ScopeStore Implementation
// ============================================================

// ScopeExists reports whether every scope name in the space-delimited list
// exists. An empty list reports false.
func (s *Store) ScopeExists(ctx context.Context, scope string) (bool, error) {
	ctx, span := s.startSpan(ctx, "scope_exists")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "scope_exists", err, start) }()

	names := strings.Fields(scope)
	if len(names) == 0 {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range names {
		if _, ok := s.scopes[name]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// DefaultScope returns the space-joined set of scopes flagged as default,
// sorted for determinism
func (s *Store) DefaultScope(ctx context.Context) (string, error) {
	ctx, span := s.startSpan(ctx, "default_scope")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "default_scope", err, start) }()

	s.mu.RLock()
	var defaults []string
	for name, sc := range s.scopes {
		if sc.IsDefault {
			defaults = append(defaults, name)
		}
	}
	s.mu.RUnlock()

	sort.Strings(defaults)
	return strings.Join(defaults, " "), nil
}

// SaveScope creates or updates a scope
func (s *Store) SaveScope(ctx context.Context, scope *storage.Scope) error {
	ctx, span := s.startSpan(ctx, "save_scope")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "save_scope", err, start) }()

	if scope == nil || scope.Scope == "" {
		err = fmt.Errorf("scope name cannot be empty")
		return err
	}

	s.mu.Lock()
	s.scopes[scope.Scope] = *scope
	s.mu.Unlock()
	return nil
}

// ============================================================
// KeyStore Implementation
// ============================================================

// PublicKey returns the PEM public key for the client, falling back to the
// default key row
func (s *Store) PublicKey(ctx context.Context, clientID string) (string, error) {
	ctx, span := s.startSpan(ctx, "public_key")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "public_key", err, start) }()

	key, found := s.lookupKey(clientID, func(k storage.SigningKey) string { return k.PublicKey })
	if !found {
		err = fmt.Errorf("public key: %w", storage.ErrNotFound)
		return "", err
	}
	return key, nil
}

// PrivateKey returns the PEM private key for the client, falling back to the
// default key row
func (s *Store) PrivateKey(ctx context.Context, clientID string) (string, error) {
	ctx, span := s.startSpan(ctx, "private_key")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "private_key", err, start) }()

	key, found := s.lookupKey(clientID, func(k storage.SigningKey) string { return k.PrivateKey })
	if !found {
		err = fmt.Errorf("private key: %w", storage.ErrNotFound)
		return "", err
	}
	return key, nil
}

// EncryptionAlgorithm returns the signing algorithm for the client, falling
// back to the default key row and finally to the RS256 literal
func (s *Store) EncryptionAlgorithm(ctx context.Context, clientID string) (string, error) {
	ctx, span := s.startSpan(ctx, "encryption_algorithm")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "encryption_algorithm", err, start) }()

	alg, found := s.lookupKey(clientID, func(k storage.SigningKey) string { return k.EncryptionAlgorithm })
	if !found || alg == "" {
		return storage.DefaultEncryptionAlgorithm, nil
	}
	return alg, nil
}

// lookupKey resolves a signing key field for the client, falling back to the
// default row (empty client_id) when the client-specific field is absent or
// empty. The bool reports whether a non-empty value was found.
func (s *Store) lookupKey(clientID string, field func(storage.SigningKey) string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if clientID != "" {
		if key, ok := s.signingKeys[clientID]; ok {
			if v := field(key); v != "" {
				return v, true
			}
		}
	}
	if key, ok := s.signingKeys[""]; ok {
		if v := field(key); v != "" {
			return v, true
		}
	}
	return "", false
}

// GetSigningKey retrieves the key row for exactly the given client_id
func (s *Store) GetSigningKey(ctx context.Context, clientID string) (*storage.SigningKey, error) {
	ctx, span := s.startSpan(ctx, "get_signing_key")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "get_signing_key", err, start) }()

	s.mu.RLock()
	key, ok := s.signingKeys[clientID]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("signing key for client %q: %w", clientID, storage.ErrNotFound)
		return nil, err
	}
	return &key, nil
}

// SaveSigningKey creates or updates a signing key pair
func (s *Store) SaveSigningKey(ctx context.Context, key *storage.SigningKey) error {
	ctx, span := s.startSpan(ctx, "save_signing_key")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "save_signing_key", err, start) }()

	if key == nil {
		err = fmt.Errorf("signing key cannot be nil")
		return err
	}

	s.mu.Lock()
	s.signingKeys[key.ClientID] = *key
	s.mu.Unlock()

	s.logger.Debug("Saved signing key",
		"client_id", key.ClientID,
		"algorithm", key.EncryptionAlgorithm)
	return nil
}

// ClientKey returns the JWT bearer public key for the client and subject
func (s *Store) ClientKey(ctx context.Context, clientID, subject string) (string, error) {
	ctx, span := s.startSpan(ctx, "client_key")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "client_key", err, start) }()

	s.mu.RLock()
	key, ok := s.clientKeys[clientKeyID{clientID: clientID, subject: subject}]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("client key for %q/%q: %w", clientID, subject, storage.ErrNotFound)
		return "", err
	}
	return key, nil
}

// SaveClientKey registers a JWT bearer public key for a client and subject
func (s *Store) SaveClientKey(ctx context.Context, key *storage.ClientKey) error {
	ctx, span := s.startSpan(ctx, "save_client_key")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "save_client_key", err, start) }()

	if key == nil || key.ClientID == "" {
		err = fmt.Errorf("client key client_id cannot be empty")
		return err
	}

	s.mu.Lock()
	s.clientKeys[clientKeyID{clientID: key.ClientID, subject: key.Subject}] = key.PublicKey
	s.mu.Unlock()
	return nil
}

// ============================================================
// JTIStore Implementation (declared capability gap)
// ============================================================

// GetJTI fails with ErrNotImplemented: this store provides no JWT replay
// protection and callers must not assume otherwise.
func (s *Store) GetJTI(context.Context, string, string, string, int64, string) error {
	return fmt.Errorf("jti lookup: %w", storage.ErrNotImplemented)
}

// SetJTI fails with ErrNotImplemented, see GetJTI.
func (s *Store) SetJTI(context.Context, string, string, string, int64, string) error {
	return fmt.Errorf("jti storage: %w", storage.ErrNotImplemented)
}
