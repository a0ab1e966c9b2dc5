package activitypub

import (
	"crypto/rsa"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/magpie-social/magpie/domain"
	"github.com/magpie-social/magpie/util"
)

// AccountStore is the slice of the store the keyring needs.
type AccountStore interface {
	ReadAccount(username string) (*domain.Account, error)
	SaveAccount(acc *domain.Account) error
	UpdateAccountKeys(username, publicPem, privatePem string) error
}

// KeySnapshot is an immutable view of the signing material. Handlers and
// workers take a snapshot once per operation; a concurrent rotation never
// mixes old and new halves of the pair.
type KeySnapshot struct {
	PrivateKey *rsa.PrivateKey
	PublicPem  string
	KeyID      string
}

// Keyring holds the local account's signing keypair and serializes rotation
// against readers.
type Keyring struct {
	mu         sync.RWMutex
	store      AccountStore
	username   string
	keyID      string
	privateKey *rsa.PrivateKey
	publicPem  string
}

// EnsureAccount loads the local account, provisioning it with a fresh
// keypair on first run.
func EnsureAccount(store AccountStore, conf *util.AppConfig) (*domain.Account, error) {
	acc, err := store.ReadAccount(conf.Conf.Account)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	keys, err := util.GeneratePemKeypair()
	if err != nil {
		return nil, err
	}

	acc = &domain.Account{
		Id:            uuid.New(),
		Username:      conf.Conf.Account,
		DisplayName:   conf.Conf.DisplayName,
		Summary:       conf.Conf.Summary,
		WebPublicKey:  keys.Public,
		WebPrivateKey: keys.Private,
		CreatedAt:     time.Now(),
	}
	if err := store.SaveAccount(acc); err != nil {
		return nil, err
	}
	log.Printf("Keys: Provisioned account %s with a new keypair", acc.Username)
	return acc, nil
}

// LoadKeyring parses the account's persisted keypair into a ready keyring.
func LoadKeyring(store AccountStore, conf *util.AppConfig) (*Keyring, error) {
	acc, err := EnsureAccount(store, conf)
	if err != nil {
		return nil, err
	}

	privateKey, err := ParsePrivateKey(acc.WebPrivateKey)
	if err != nil {
		return nil, err
	}

	return &Keyring{
		store:      store,
		username:   acc.Username,
		keyID:      conf.KeyID(),
		privateKey: privateKey,
		publicPem:  acc.WebPublicKey,
	}, nil
}

// Snapshot returns a consistent view of the current pair.
func (k *Keyring) Snapshot() KeySnapshot {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return KeySnapshot{
		PrivateKey: k.privateKey,
		PublicPem:  k.publicPem,
		KeyID:      k.keyID,
	}
}

// Rotate generates a new keypair, persists it, then swaps it in. In-flight
// operations keep signing with the snapshot they already took; remote peers
// recover through their own re-fetch of the actor document.
func (k *Keyring) Rotate() error {
	keys, err := util.GeneratePemKeypair()
	if err != nil {
		return err
	}
	privateKey, err := ParsePrivateKey(keys.Private)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.store.UpdateAccountKeys(k.username, keys.Public, keys.Private); err != nil {
		return err
	}
	k.privateKey = privateKey
	k.publicPem = keys.Public
	log.Printf("Keys: Rotated keypair for %s", k.username)
	return nil
}
