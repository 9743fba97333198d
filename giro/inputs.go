package giro

import (
	"strconv"
)

type GiroFilter struct {
	Status      GiroStatus
	MinoristaID string
	Page        int
}

func (f GiroFilter) params() map[string]string {
	params := map[string]string{
		"status":         string(f.Status),
		FieldMinoristaID: f.MinoristaID,
	}
	if f.Page > 0 {
		params["page"] = strconv.Itoa(f.Page)
	}
	return params
}

type RechargeFilter struct {
	Status      RechargeStatus
	MinoristaID string
}

func (f RechargeFilter) params() map[string]string {
	return map[string]string{
		"status":         string(f.Status),
		FieldMinoristaID: f.MinoristaID,
	}
}

type UserFilter struct {
	Role string
}

func (f UserFilter) params() map[string]string {
	return map[string]string{"role": f.Role}
}

type CreateGiroInput struct {
	MinoristaID     string   `json:"minorista_id" validate:"required"`
	Type            GiroType `json:"type" validate:"required,oneof=transfer mobile_payment recharge"`
	BeneficiaryName string   `json:"beneficiary_name" validate:"required"`
	BeneficiaryID   string   `json:"beneficiary_id" validate:"required"`
	BankID          string   `json:"bank_id,omitempty" validate:"required_if=Type transfer"`
	AccountNumber   string   `json:"account_number,omitempty" validate:"required_if=Type transfer"`
	Phone           string   `json:"phone,omitempty" validate:"required_if=Type mobile_payment"`
	Currency        string   `json:"currency" validate:"required,oneof=COP USD VES"`
	Amount          float64  `json:"amount" validate:"gt=0"`
}

type UpdateGiroInput struct {
	BeneficiaryName string  `json:"beneficiary_name,omitempty"`
	BeneficiaryID   string  `json:"beneficiary_id,omitempty"`
	BankID          string  `json:"bank_id,omitempty"`
	AccountNumber   string  `json:"account_number,omitempty"`
	Phone           string  `json:"phone,omitempty"`
	Amount          float64 `json:"amount,omitempty" validate:"gte=0"`
}

type ExecuteGiroInput struct {
	BankAccountID string `json:"bank_account_id" validate:"required"`
	ProofURL      string `json:"proof_url,omitempty" validate:"omitempty,url"`
}

type ReturnGiroInput struct {
	Reason string `json:"reason" validate:"required"`
}

type CreditInput struct {
	CreditLimit float64 `json:"credit_limit" validate:"gte=0"`
}

type BankAccountInput struct {
	BankID            string  `json:"bank_id" validate:"required"`
	AccountNumber     string  `json:"account_number" validate:"required,numeric,len=20"`
	AccountHolder     string  `json:"account_holder" validate:"required"`
	AccountType       string  `json:"account_type,omitempty" validate:"omitempty,oneof=savings checking"`
	Balance           float64 `json:"balance" validate:"gte=0"`
	TransferencistaID string  `json:"transferencista_id,omitempty"`
}

type ExchangeRateInput struct {
	BuyRate  float64 `json:"buy_rate" validate:"gt=0"`
	SellRate float64 `json:"sell_rate" validate:"gt=0"`
	USD      float64 `json:"usd" validate:"gt=0"`
	BCV      float64 `json:"bcv" validate:"gt=0"`
}

type RechargeInput struct {
	MinoristaID string  `json:"minorista_id" validate:"required"`
	Amount      float64 `json:"amount" validate:"gt=0"`
}

type RejectRechargeInput struct {
	Reason string `json:"reason" validate:"required"`
}

type UserInput struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=admin minorista transferencista"`
	Password string `json:"password,omitempty" validate:"omitempty,min=8"`
	IsActive *bool  `json:"is_active,omitempty"`
}
