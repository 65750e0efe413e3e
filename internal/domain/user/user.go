package user

import (
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
)

// User is the platform account a reward or transaction belongs to.
type User struct {
	ID            int64     `json:"id"`
	UserID        uuid.UUID `json:"userId"`
	Username      string    `json:"username"`
	WalletAddress *string   `json:"walletAddress,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// OwnsAddress reports whether addr is the user's registered wallet.
func (u *User) OwnsAddress(addr string) bool {
	if u.WalletAddress == nil {
		return false
	}
	want := ledger.NormalizeAddress(*u.WalletAddress)
	return want != "" && want == ledger.NormalizeAddress(addr)
}
