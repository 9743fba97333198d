package giro

import (
	"time"
)

type GiroType string

const (
	GiroTransfer      GiroType = "transfer"
	GiroMobilePayment GiroType = "mobile_payment"
	GiroRecharge      GiroType = "recharge"
)

type GiroStatus string

const (
	StatusPending    GiroStatus = "pending"
	StatusAssigned   GiroStatus = "assigned"
	StatusProcessing GiroStatus = "processing"
	StatusCompleted  GiroStatus = "completed"
	StatusReturned   GiroStatus = "returned"
	StatusCancelled  GiroStatus = "cancelled"
)

// Currencies and GiroStatuses are the static reference data served from the
// static tier.
var (
	Currencies   = []string{"COP", "USD", "VES"}
	GiroStatuses = []GiroStatus{StatusPending, StatusAssigned, StatusProcessing, StatusCompleted, StatusReturned, StatusCancelled}
)

type Giro struct {
	ID                string     `json:"id"`
	MinoristaID       string     `json:"minorista_id,omitempty"`
	TransferencistaID string     `json:"transferencista_id,omitempty"`
	BankAccountID     string     `json:"bank_account_id,omitempty"`
	Type              GiroType   `json:"type"`
	BeneficiaryName   string     `json:"beneficiary_name"`
	BeneficiaryID     string     `json:"beneficiary_id"`
	BankID            string     `json:"bank_id,omitempty"`
	AccountNumber     string     `json:"account_number,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	Currency          string     `json:"currency"`
	AmountInput       float64    `json:"amount_input"`
	AmountBs          float64    `json:"amount_bs"`
	RateApplied       float64    `json:"rate_applied"`
	Status            GiroStatus `json:"status"`
	ReturnReason      string     `json:"return_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type GiroPage struct {
	Giros      []Giro     `json:"giros"`
	Pagination Pagination `json:"pagination"`
}

type Minorista struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	FullName        string  `json:"full_name"`
	Email           string  `json:"email"`
	Phone           string  `json:"phone,omitempty"`
	CreditLimit     float64 `json:"credit_limit"`
	AvailableCredit float64 `json:"available_credit"`
	Balance         float64 `json:"balance"`
}

type MinoristaBalance struct {
	MinoristaID     string  `json:"minorista_id"`
	CreditLimit     float64 `json:"credit_limit"`
	AvailableCredit float64 `json:"available_credit"`
	Balance         float64 `json:"balance"`
}

type Transferencista struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Available bool   `json:"available"`
}

type Bank struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

type BankAccount struct {
	ID                string  `json:"id"`
	BankID            string  `json:"bank_id"`
	AccountNumber     string  `json:"account_number"`
	AccountHolder     string  `json:"account_holder"`
	AccountType       string  `json:"account_type,omitempty"`
	Balance           float64 `json:"balance"`
	TransferencistaID string  `json:"transferencista_id,omitempty"`
}

type ExchangeRate struct {
	ID        string    `json:"id"`
	BuyRate   float64   `json:"buy_rate"`
	SellRate  float64   `json:"sell_rate"`
	USD       float64   `json:"usd"`
	BCV       float64   `json:"bcv"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type RechargeStatus string

const (
	RechargePending  RechargeStatus = "pending"
	RechargeApproved RechargeStatus = "approved"
	RechargeRejected RechargeStatus = "rejected"
)

type Recharge struct {
	ID          string         `json:"id"`
	MinoristaID string         `json:"minorista_id"`
	Amount      float64        `json:"amount"`
	Status      RechargeStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

type DashboardStats struct {
	TotalGiros      int     `json:"total_giros"`
	PendingGiros    int     `json:"pending_giros"`
	CompletedGiros  int     `json:"completed_giros"`
	PendingRecharge int     `json:"pending_recharges"`
	TotalCOP        float64 `json:"total_cop"`
	TotalBs         float64 `json:"total_bs"`
	Earnings        float64 `json:"earnings"`
}
