package giro

import (
	"github.com/saiset-co/giro-sync/invalidation"
	"github.com/saiset-co/giro-sync/types"
)

// Rules is the cross-entity fan-out table. The mutated entity's own detail
// and list keys are handled by the router defaults; every entry here lists
// only what else the operation changes on the server.
func Rules() []invalidation.Rule {
	dashboard := invalidation.All(KindDashboard)
	balance := minoristaBalance()

	return []invalidation.Rule{
		// Creating, editing, returning or deleting a giro moves the owning
		// minorista's available credit.
		{Event: event(KindGiros, invalidation.OpCreate), Targets: []invalidation.Target{dashboard, balance}},
		{Event: event(KindGiros, invalidation.OpUpdate), Targets: []invalidation.Target{dashboard, balance}},
		{Event: event(KindGiros, invalidation.OpReturn), Targets: []invalidation.Target{dashboard, balance}},
		{Event: event(KindGiros, invalidation.OpDelete), Targets: []invalidation.Target{dashboard, balance}},
		// Execution also debits the bank account it was paid from.
		{Event: event(KindGiros, invalidation.OpExecute), Targets: []invalidation.Target{
			dashboard,
			balance,
			invalidation.ActorDetail(KindBankAccounts, KindBankAccounts),
			invalidation.Lists(KindBankAccounts),
		}},

		{Event: event(KindMinoristas, invalidation.OpUpdate), Targets: []invalidation.Target{
			invalidation.Detail(KindMinoristaBalance),
			dashboard,
		}},

		{Event: event(KindRecharges, invalidation.OpCreate), Targets: []invalidation.Target{dashboard}},
		{Event: event(KindRecharges, invalidation.OpApprove), Targets: []invalidation.Target{
			dashboard,
			balance,
			invalidation.Lists(KindMinoristas),
		}},
		{Event: event(KindRecharges, invalidation.OpReject), Targets: []invalidation.Target{dashboard}},

		{Event: event(KindBankAccounts, invalidation.OpCreate), Targets: []invalidation.Target{dashboard}},
		{Event: event(KindBankAccounts, invalidation.OpUpdate), Targets: []invalidation.Target{dashboard}},
		{Event: event(KindBankAccounts, invalidation.OpDelete), Targets: []invalidation.Target{dashboard}},

		// The current rate is a detail key of its own, so a new rate stales
		// every exchange-rate key, not only the lists.
		{Event: event(KindExchangeRates, invalidation.OpCreate), Targets: []invalidation.Target{
			invalidation.All(KindExchangeRates),
			dashboard,
		}},

		{Event: event(KindUsers, invalidation.OpCreate), Targets: userProfiles()},
		{Event: event(KindUsers, invalidation.OpUpdate), Targets: userProfiles()},
		{Event: event(KindUsers, invalidation.OpDelete), Targets: userProfiles()},
	}
}

func event(kind types.EntityKind, op invalidation.Operation) string {
	return invalidation.EventName(kind, op)
}

// minoristaBalance targets the balance of each minorista named in the
// mutation. When none is named every balance is staled.
func minoristaBalance() invalidation.Target {
	byActor := invalidation.ActorDetail(KindMinoristas, KindMinoristaBalance)

	return func(m invalidation.Mutation) []types.KeyPrefix {
		if prefixes := byActor(m); len(prefixes) > 0 {
			return prefixes
		}
		return []types.KeyPrefix{types.AllOf(KindMinoristaBalance)}
	}
}

// userProfiles covers the role-specific views built on top of users.
func userProfiles() []invalidation.Target {
	return []invalidation.Target{
		invalidation.Lists(KindMinoristas),
		invalidation.Lists(KindTransferencistas),
	}
}
