package ledger

// AccountState represents the lifecycle state of an account
type AccountState int

const (
	// StateNone is the "before" state recorded when an account is opened
	StateNone AccountState = 0
	// StateActive accepts every operation
	StateActive AccountState = 1
	// StateFrozen holds a positive balance but rejects transfers
	StateFrozen AccountState = 2
	// StateClosed is terminal
	StateClosed AccountState = 4
)

// String returns the string representation of the state
func (s AccountState) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateActive:
		return "ACTIVE"
	case StateFrozen:
		return "FROZEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// validStateTransitions defines the allowed state transitions for accounts.
// Active -> Active is an info update.
var validStateTransitions = map[AccountState][]AccountState{
	StateNone:   {StateActive},
	StateActive: {StateActive, StateFrozen, StateClosed},
	StateFrozen: {StateClosed},
	StateClosed: {},
}

// CanTransition checks if a state transition is allowed
func CanTransition(from, to AccountState) bool {
	for _, s := range validStateTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal checks if the state accepts no further mutations
func (s AccountState) IsTerminal() bool {
	return s == StateClosed
}

// AccountType represents the product type of an account
type AccountType int

const (
	AccountTypeSavings      AccountType = 1
	AccountTypeCurrent      AccountType = 2
	AccountTypeFixedDeposit AccountType = 3
)

// String returns the string representation of the account type
func (t AccountType) String() string {
	switch t {
	case AccountTypeSavings:
		return "SAVINGS"
	case AccountTypeCurrent:
		return "CURRENT"
	case AccountTypeFixedDeposit:
		return "FIXED_DEPOSIT"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether t is a known account type
func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeSavings, AccountTypeCurrent, AccountTypeFixedDeposit:
		return true
	}
	return false
}

// ChangeType tags an account change log entry
type ChangeType int

const (
	ChangeOpen   ChangeType = 1
	ChangeClose  ChangeType = 2
	ChangeInfo   ChangeType = 3
	ChangeFrozen ChangeType = 4
)

// Description returns the text stored in the change_desc column
func (c ChangeType) Description() string {
	switch c {
	case ChangeOpen:
		return "open account"
	case ChangeClose:
		return "close account"
	case ChangeInfo:
		return "info change"
	case ChangeFrozen:
		return "frozen due to balance"
	default:
		return "unknown"
	}
}

// BalanceChangeType tags a balance change log entry
type BalanceChangeType int

const (
	BalanceOpen        BalanceChangeType = 1
	BalanceTransferOut BalanceChangeType = 5
	BalanceTransferIn  BalanceChangeType = 6
)

// Description returns the text stored in the change_desc column
func (c BalanceChangeType) Description() string {
	switch c {
	case BalanceOpen:
		return "initial deposit"
	case BalanceTransferOut:
		return "transfer out"
	case BalanceTransferIn:
		return "transfer in"
	default:
		return "unknown"
	}
}
