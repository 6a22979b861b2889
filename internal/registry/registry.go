// Package registry implements the credential and backend-instance registry
// (C3): per-tenant configuration of which backend instances exist, their
// base URLs, and their encrypted credentials, plus the lookup the
// dispatcher uses to resolve a (tenant, instance) pair to a live
// adapter.Adapter.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsgateway/issuegateway/internal/adapter"
	"github.com/opsgateway/issuegateway/internal/adapters"
	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/model"
	"github.com/opsgateway/issuegateway/internal/store"
)

// Instance is one configured backend connection for a tenant.
type Instance struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	Kind        string    `db:"kind"`
	BaseURL     string    `db:"base_url"`
	AuthType    string    `db:"auth_type"`
	AuthEmail   *string   `db:"auth_email"`
	IsActive    bool      `db:"is_active"`
	IsConnected bool      `db:"is_connected"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`

	// EncryptedCredentials is never exposed outside this package's
	// decryption path; callers get an Adapter, never the ciphertext.
	EncryptedCredentials *string `db:"encrypted_credentials"`
}

// Cipher encrypts and decrypts credential material at rest. AES-GCM via
// crypto/aes+crypto/cipher (see DESIGN.md for why this is stdlib, not a
// pack library).
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// Registry resolves backend instances to live adapters, caching decrypted
// adapters in memory so credentials are decrypted once per instance per
// process lifetime rather than per request.
type Registry struct {
	db     *store.DB
	cipher Cipher

	mu    sync.RWMutex
	cache map[string]adapter.Adapter // "tenant id/instance id" -> adapter
}

// New builds a Registry. cipher decrypts stored credentials before handing
// them to the adapter factory.
func New(db *store.DB, cipher Cipher) *Registry {
	return &Registry{db: db, cipher: cipher, cache: make(map[string]adapter.Adapter)}
}

// CreateInstance registers a new backend instance for tenantID, encrypting
// credentials before they touch the database.
func (r *Registry) CreateInstance(ctx context.Context, tenantID string, kind model.BackendKind, baseURL string, auth adapter.AuthConfig) (*Instance, error) {
	plaintext, err := marshalAuth(auth)
	if err != nil {
		return nil, fmt.Errorf("marshaling credentials: %w", err)
	}
	encrypted, err := r.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypting credentials: %w", err)
	}

	id := uuid.NewString()
	var authEmail *string
	if auth.Email != "" {
		authEmail = &auth.Email
	}

	const q = `
		INSERT INTO backend_instances (id, tenant_id, kind, base_url, auth_type, auth_email, encrypted_credentials)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, tenant_id, kind, base_url, auth_type, auth_email, is_active, is_connected, created_at, updated_at, encrypted_credentials
	`
	var inst Instance
	if err := r.db.GetContext(ctx, &inst, q, id, tenantID, string(kind), baseURL, string(auth.Kind), authEmail, encrypted); err != nil {
		return nil, fmt.Errorf("inserting backend instance: %w", err)
	}
	return &inst, nil
}

// Get fetches an instance's metadata (without decrypting credentials) for
// tenantID, enforcing tenant scoping on every lookup.
func (r *Registry) Get(ctx context.Context, tenantID, instanceID string) (*Instance, error) {
	const q = `
		SELECT id, tenant_id, kind, base_url, auth_type, auth_email, is_active, is_connected, created_at, updated_at, encrypted_credentials
		FROM backend_instances WHERE id = $1 AND tenant_id = $2
	`
	var inst Instance
	if err := r.db.GetContext(ctx, &inst, q, instanceID, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NotFound("backend instance not found", map[string]any{"instance_id": instanceID})
		}
		return nil, fmt.Errorf("fetching backend instance: %w", err)
	}
	return &inst, nil
}

// List returns all active instances for tenantID.
func (r *Registry) List(ctx context.Context, tenantID string) ([]Instance, error) {
	const q = `
		SELECT id, tenant_id, kind, base_url, auth_type, auth_email, is_active, is_connected, created_at, updated_at, encrypted_credentials
		FROM backend_instances WHERE tenant_id = $1 AND is_active = true ORDER BY created_at
	`
	var out []Instance
	if err := r.db.SelectContext(ctx, &out, q, tenantID); err != nil {
		return nil, fmt.Errorf("listing backend instances: %w", err)
	}
	return out, nil
}

// Resolve returns a live adapter.Adapter for (tenantID, instanceID),
// decrypting stored credentials and constructing the backend client on
// first use, then caching it for the lifetime of the process.
func (r *Registry) Resolve(ctx context.Context, tenantID, instanceID string) (adapter.Adapter, error) {
	cacheKey := tenantID + "/" + instanceID
	r.mu.RLock()
	a, ok := r.cache[cacheKey]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	inst, err := r.Get(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.IsActive {
		return nil, apierrors.Validation("backend instance is not active", map[string]any{"instance_id": instanceID})
	}
	if inst.EncryptedCredentials == nil {
		return nil, apierrors.Validation("backend instance has no stored credentials", map[string]any{"instance_id": instanceID})
	}

	plaintext, err := r.cipher.Decrypt(*inst.EncryptedCredentials)
	if err != nil {
		return nil, fmt.Errorf("decrypting credentials: %w", err)
	}
	auth, err := unmarshalAuth(plaintext)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling credentials: %w", err)
	}

	newAdapter, err := adapters.New(model.BackendKind(inst.Kind), inst.ID, inst.BaseURL, auth)
	if err != nil {
		return nil, fmt.Errorf("constructing adapter for instance %s: %w", instanceID, err)
	}

	r.mu.Lock()
	r.cache[cacheKey] = newAdapter
	r.mu.Unlock()
	return newAdapter, nil
}

// Invalidate drops a cached adapter, forcing the next Resolve to rebuild it
// from (possibly rotated) stored credentials.
func (r *Registry) Invalidate(instanceID string) {
	r.mu.Lock()
	for k := range r.cache {
		if strings.HasSuffix(k, "/"+instanceID) {
			delete(r.cache, k)
		}
	}
	r.mu.Unlock()
}

// MarkConnectionStatus records the result of a TestConnection probe so
// operators can see instance health without re-probing on every request.
func (r *Registry) MarkConnectionStatus(ctx context.Context, instanceID string, connected bool, connErr error) error {
	var errMsg *string
	if connErr != nil {
		msg := connErr.Error()
		errMsg = &msg
	}
	const q = `
		UPDATE backend_instances
		SET is_connected = $1, connection_error = $2, last_connection_check = $3, updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, q, connected, errMsg, time.Now().UTC(), instanceID)
	if err != nil {
		return fmt.Errorf("updating connection status: %w", err)
	}
	return nil
}
