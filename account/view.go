package account

import (
	"time"

	"ledger"
	"ledger/money"
	"ledger/store"
)

// View is the account snapshot returned to callers. Balance carries exactly
// six fractional digits, floored.
type View struct {
	ID            int64               `json:"id,string"`
	AccountNumber string              `json:"account_number"`
	AccountType   ledger.AccountType  `json:"account_type"`
	OwnerID       string              `json:"owner_id"`
	OwnerName     string              `json:"owner_name"`
	ContactInfo   string              `json:"contact_info"`
	Balance       string              `json:"balance"`
	State         ledger.AccountState `json:"state"`
	Version       int64               `json:"version,string"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	DeletedAt     *time.Time          `json:"deleted_at,omitempty"`
}

// NewView renders a.
func NewView(a *store.Account) *View {
	return &View{
		ID:            a.ID,
		AccountNumber: a.AccountNumber,
		AccountType:   a.AccountType,
		OwnerID:       a.OwnerID,
		OwnerName:     a.OwnerName,
		ContactInfo:   a.ContactInfo,
		Balance:       money.Display(a.Balance),
		State:         a.State,
		Version:       a.Version,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
		DeletedAt:     a.DeletedAt,
	}
}

// Page is one page of a keyset listing.
type Page struct {
	Elements []*View `json:"elements"`
	// NextCursor is the id of the last element, or 0 for an empty page.
	NextCursor int64 `json:"next_cursor,string"`
	HasMore    bool  `json:"has_more"`
}
