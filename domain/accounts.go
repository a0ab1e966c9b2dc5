package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account is the single local actor this node represents. The identifier
// (username + domain) is fixed at provisioning; only profile fields and, on
// explicit rotation, the keypair change afterwards.
type Account struct {
	Id            uuid.UUID
	Username      string
	DisplayName   string
	Summary       string
	WebPublicKey  string
	WebPrivateKey string
	CreatedAt     time.Time
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tCreatedAt: %s", acc.Id, acc.Username, acc.CreatedAt)
}
