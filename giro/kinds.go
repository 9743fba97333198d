// Package giro is the typed data layer of the giro back office: cached
// queries, mutations that invalidate what they change, and the fan-out table
// shared with the push channel.
package giro

import (
	"github.com/saiset-co/giro-sync/invalidation"
	"github.com/saiset-co/giro-sync/types"
)

const (
	KindGiros            types.EntityKind = "giros"
	KindMinoristas       types.EntityKind = "minoristas"
	KindMinoristaBalance types.EntityKind = "minorista-balance"
	KindTransferencistas types.EntityKind = "transferencistas"
	KindBanks            types.EntityKind = "banks"
	KindBankAccounts     types.EntityKind = "bank-accounts"
	KindExchangeRates    types.EntityKind = "exchange-rates"
	KindRecharges        types.EntityKind = "recharges"
	KindUsers            types.EntityKind = "users"
	KindDashboard        types.EntityKind = "dashboard"
	KindCurrencies       types.EntityKind = "currencies"
	KindGiroStatuses     types.EntityKind = "giro-statuses"
)

// Payload fields that identify secondarily affected actors.
const (
	FieldMinoristaID       = "minorista_id"
	FieldTransferencistaID = "transferencista_id"
	FieldBankAccountID     = "bank_account_id"
)

// DefaultKinds assigns a staleness tier to every kind. Balances and active
// giros change with every operation; banks almost never do.
func DefaultKinds() map[types.EntityKind]types.TierName {
	return map[types.EntityKind]types.TierName{
		KindGiros:            types.TierVolatile,
		KindMinoristaBalance: types.TierVolatile,
		KindDashboard:        types.TierVolatile,
		KindRecharges:        types.TierVolatile,
		KindMinoristas:       types.TierNormal,
		KindTransferencistas: types.TierNormal,
		KindBankAccounts:     types.TierNormal,
		KindExchangeRates:    types.TierNormal,
		KindUsers:            types.TierNormal,
		KindBanks:            types.TierLowPriority,
		KindCurrencies:       types.TierStatic,
		KindGiroStatuses:     types.TierStatic,
	}
}

// RouterOptions maps push payload fields to actor kinds.
func RouterOptions() []invalidation.Option {
	return []invalidation.Option{
		invalidation.WithActorField(FieldMinoristaID, KindMinoristas),
		invalidation.WithActorField(FieldTransferencistaID, KindTransferencistas),
		invalidation.WithActorField(FieldBankAccountID, KindBankAccounts),
	}
}

func actors(minoristaID, transferencistaID, bankAccountID string) []types.Actor {
	var result []types.Actor
	if minoristaID != "" {
		result = append(result, types.Actor{Kind: KindMinoristas, ID: minoristaID})
	}
	if transferencistaID != "" {
		result = append(result, types.Actor{Kind: KindTransferencistas, ID: transferencistaID})
	}
	if bankAccountID != "" {
		result = append(result, types.Actor{Kind: KindBankAccounts, ID: bankAccountID})
	}
	return result
}
