package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/onnwee/chattender/crypto"
)

var tokensBucket = []byte("user_tokens")

// Bolt is a TokenStore backed by a bbolt file. It is the default store when
// no DB_DSN is configured. Token material is passed through a crypto.Sealer
// before hitting disk; pass crypto.Plaintext{} to store unsealed.
type Bolt struct {
	db     *bolt.DB
	sealer crypto.Sealer
}

type boltPair struct {
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token"`
}

// OpenBolt opens (creating if needed) the token database at path.
func OpenBolt(path string, sealer crypto.Sealer) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create token db directory %s: %w", dir, err)
		}
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open token db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tokens bucket: %w", err)
	}
	if sealer == nil {
		sealer = crypto.Plaintext{}
	}
	return &Bolt{db: db, sealer: sealer}, nil
}

// Close releases the underlying bbolt file.
func (b *Bolt) Close() error { return b.db.Close() }

func (b *Bolt) load(handle string) (boltPair, bool, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(tokensBucket).Get([]byte(handle)); v != nil {
			raw = append(raw, v...)
		}
		return nil
	})
	if err != nil {
		return boltPair{}, false, err
	}
	if raw == nil {
		return boltPair{}, false, nil
	}
	var p boltPair
	if err := json.Unmarshal(raw, &p); err != nil {
		return boltPair{}, false, fmt.Errorf("decode token pair for %s: %w", handle, err)
	}
	if p.Access, err = b.sealer.Open(p.Access); err != nil {
		return boltPair{}, false, fmt.Errorf("unseal access token for %s: %w", handle, err)
	}
	if p.Refresh, err = b.sealer.Open(p.Refresh); err != nil {
		return boltPair{}, false, fmt.Errorf("unseal refresh token for %s: %w", handle, err)
	}
	return p, true, nil
}

func (b *Bolt) AccessToken(_ context.Context, handle string) (string, bool, error) {
	p, ok, err := b.load(handle)
	return p.Access, ok, err
}

func (b *Bolt) RefreshToken(_ context.Context, handle string) (string, bool, error) {
	p, ok, err := b.load(handle)
	return p.Refresh, ok, err
}

// SetTokens writes the pair inside a single bbolt transaction, so readers see
// either the old pair or the new one, never a mix.
func (b *Bolt) SetTokens(_ context.Context, handle, access, refresh string) error {
	sealedAccess, err := b.sealer.Seal(access)
	if err != nil {
		return fmt.Errorf("seal access token for %s: %w", handle, err)
	}
	sealedRefresh, err := b.sealer.Seal(refresh)
	if err != nil {
		return fmt.Errorf("seal refresh token for %s: %w", handle, err)
	}
	raw, err := json.Marshal(boltPair{Access: sealedAccess, Refresh: sealedRefresh})
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Put([]byte(handle), raw)
	})
}
