package giro

import (
	"context"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/giro-sync/cache"
	"github.com/saiset-co/giro-sync/invalidation"
	"github.com/saiset-co/giro-sync/types"
)

func (a *API) CreateGiro(ctx context.Context, input CreateGiroInput) (Giro, error) {
	if err := a.validate(input); err != nil {
		return Giro{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[Giro](a, fasthttp.MethodPost, "/giros", nil, input),
		func(g Giro) invalidation.Mutation {
			if g.MinoristaID == "" {
				g.MinoristaID = input.MinoristaID
			}
			return a.giroMutation(g, g.ID, invalidation.OpCreate)
		})
}

func (a *API) UpdateGiro(ctx context.Context, id string, input UpdateGiroInput) (Giro, error) {
	if id == "" {
		return Giro{}, types.Errorf(types.ErrInputInvalid, "empty giro id")
	}
	if err := a.validate(input); err != nil {
		return Giro{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[Giro](a, fasthttp.MethodPut, "/giros/"+id, nil, input),
		func(g Giro) invalidation.Mutation {
			return a.giroMutation(g, id, invalidation.OpUpdate)
		})
}

func (a *API) ExecuteGiro(ctx context.Context, id string, input ExecuteGiroInput) (Giro, error) {
	if id == "" {
		return Giro{}, types.Errorf(types.ErrInputInvalid, "empty giro id")
	}
	if err := a.validate(input); err != nil {
		return Giro{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[Giro](a, fasthttp.MethodPost, "/giros/"+id+"/execute", nil, input),
		func(g Giro) invalidation.Mutation {
			if g.BankAccountID == "" {
				g.BankAccountID = input.BankAccountID
			}
			return a.giroMutation(g, id, invalidation.OpExecute)
		})
}

func (a *API) ReturnGiro(ctx context.Context, id string, input ReturnGiroInput) (Giro, error) {
	if id == "" {
		return Giro{}, types.Errorf(types.ErrInputInvalid, "empty giro id")
	}
	if err := a.validate(input); err != nil {
		return Giro{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[Giro](a, fasthttp.MethodPost, "/giros/"+id+"/return", nil, input),
		func(g Giro) invalidation.Mutation {
			return a.giroMutation(g, id, invalidation.OpReturn)
		})
}

// DeleteGiro removes a giro. The backend may answer without data, in which
// case the owning minorista is taken from the cached detail.
func (a *API) DeleteGiro(ctx context.Context, id string) error {
	if id == "" {
		return types.Errorf(types.ErrInputInvalid, "empty giro id")
	}

	_, err := invalidation.Mutate(ctx, a.router,
		call[Giro](a, fasthttp.MethodDelete, "/giros/"+id, nil, nil),
		func(g Giro) invalidation.Mutation {
			return a.giroMutation(g, id, invalidation.OpDelete)
		})
	return err
}

func (a *API) UpdateMinoristaCredit(ctx context.Context, minoristaID string, input CreditInput) (Minorista, error) {
	if minoristaID == "" {
		return Minorista{}, types.Errorf(types.ErrInputInvalid, "empty minorista id")
	}
	if err := a.validate(input); err != nil {
		return Minorista{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[Minorista](a, fasthttp.MethodPut, "/minoristas/"+minoristaID+"/credit", nil, input),
		func(Minorista) invalidation.Mutation {
			return invalidation.Mutation{Kind: KindMinoristas, ID: minoristaID, Operation: invalidation.OpUpdate}
		})
}

func (a *API) CreateBankAccount(ctx context.Context, input BankAccountInput) (BankAccount, error) {
	if err := a.validate(input); err != nil {
		return BankAccount{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[BankAccount](a, fasthttp.MethodPost, "/bank-accounts", nil, input),
		func(acc BankAccount) invalidation.Mutation {
			return bankAccountMutation(acc, acc.ID, invalidation.OpCreate)
		})
}

func (a *API) UpdateBankAccount(ctx context.Context, id string, input BankAccountInput) (BankAccount, error) {
	if id == "" {
		return BankAccount{}, types.Errorf(types.ErrInputInvalid, "empty bank account id")
	}
	if err := a.validate(input); err != nil {
		return BankAccount{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[BankAccount](a, fasthttp.MethodPut, "/bank-accounts/"+id, nil, input),
		func(acc BankAccount) invalidation.Mutation {
			return bankAccountMutation(acc, id, invalidation.OpUpdate)
		})
}

func (a *API) DeleteBankAccount(ctx context.Context, id string) error {
	if id == "" {
		return types.Errorf(types.ErrInputInvalid, "empty bank account id")
	}

	_, err := invalidation.Mutate(ctx, a.router,
		call[BankAccount](a, fasthttp.MethodDelete, "/bank-accounts/"+id, nil, nil),
		func(acc BankAccount) invalidation.Mutation {
			return bankAccountMutation(acc, id, invalidation.OpDelete)
		})
	return err
}

func (a *API) CreateExchangeRate(ctx context.Context, input ExchangeRateInput) (ExchangeRate, error) {
	if err := a.validate(input); err != nil {
		return ExchangeRate{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[ExchangeRate](a, fasthttp.MethodPost, "/exchange-rates", nil, input),
		func(rate ExchangeRate) invalidation.Mutation {
			return invalidation.Mutation{Kind: KindExchangeRates, ID: rate.ID, Operation: invalidation.OpCreate}
		})
}

func (a *API) CreateRecharge(ctx context.Context, input RechargeInput) (Recharge, error) {
	if err := a.validate(input); err != nil {
		return Recharge{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[Recharge](a, fasthttp.MethodPost, "/recharges", nil, input),
		func(r Recharge) invalidation.Mutation {
			if r.MinoristaID == "" {
				r.MinoristaID = input.MinoristaID
			}
			return rechargeMutation(r, r.ID, invalidation.OpCreate)
		})
}

func (a *API) ApproveRecharge(ctx context.Context, id string) (Recharge, error) {
	if id == "" {
		return Recharge{}, types.Errorf(types.ErrInputInvalid, "empty recharge id")
	}

	return invalidation.Mutate(ctx, a.router,
		call[Recharge](a, fasthttp.MethodPost, "/recharges/"+id+"/approve", nil, nil),
		func(r Recharge) invalidation.Mutation {
			return rechargeMutation(r, id, invalidation.OpApprove)
		})
}

func (a *API) RejectRecharge(ctx context.Context, id string, input RejectRechargeInput) (Recharge, error) {
	if id == "" {
		return Recharge{}, types.Errorf(types.ErrInputInvalid, "empty recharge id")
	}
	if err := a.validate(input); err != nil {
		return Recharge{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[Recharge](a, fasthttp.MethodPost, "/recharges/"+id+"/reject", nil, input),
		func(r Recharge) invalidation.Mutation {
			return rechargeMutation(r, id, invalidation.OpReject)
		})
}

func (a *API) CreateUser(ctx context.Context, input UserInput) (User, error) {
	if err := a.validate(input); err != nil {
		return User{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[User](a, fasthttp.MethodPost, "/users", nil, input),
		func(u User) invalidation.Mutation {
			return invalidation.Mutation{Kind: KindUsers, ID: u.ID, Operation: invalidation.OpCreate}
		})
}

func (a *API) UpdateUser(ctx context.Context, id string, input UserInput) (User, error) {
	if id == "" {
		return User{}, types.Errorf(types.ErrInputInvalid, "empty user id")
	}
	if err := a.validate(input); err != nil {
		return User{}, err
	}

	return invalidation.Mutate(ctx, a.router,
		call[User](a, fasthttp.MethodPut, "/users/"+id, nil, input),
		func(User) invalidation.Mutation {
			return invalidation.Mutation{Kind: KindUsers, ID: id, Operation: invalidation.OpUpdate}
		})
}

func (a *API) DeleteUser(ctx context.Context, id string) error {
	if id == "" {
		return types.Errorf(types.ErrInputInvalid, "empty user id")
	}

	_, err := invalidation.Mutate(ctx, a.router,
		call[User](a, fasthttp.MethodDelete, "/users/"+id, nil, nil),
		func(User) invalidation.Mutation {
			return invalidation.Mutation{Kind: KindUsers, ID: id, Operation: invalidation.OpDelete}
		})
	return err
}

// giroMutation fills actors missing from the response from the cached detail.
func (a *API) giroMutation(g Giro, id string, op invalidation.Operation) invalidation.Mutation {
	if g.ID == "" {
		g.ID = id
	}

	if cached, ok := cache.Peek[Giro](a.store, types.DetailKey(KindGiros, g.ID)); ok {
		if g.MinoristaID == "" {
			g.MinoristaID = cached.MinoristaID
		}
		if g.TransferencistaID == "" {
			g.TransferencistaID = cached.TransferencistaID
		}
		if g.BankAccountID == "" {
			g.BankAccountID = cached.BankAccountID
		}
	}

	return invalidation.Mutation{
		Kind:      KindGiros,
		ID:        g.ID,
		Operation: op,
		Actors:    actors(g.MinoristaID, g.TransferencistaID, g.BankAccountID),
	}
}

func bankAccountMutation(acc BankAccount, id string, op invalidation.Operation) invalidation.Mutation {
	if acc.ID == "" {
		acc.ID = id
	}
	return invalidation.Mutation{
		Kind:      KindBankAccounts,
		ID:        acc.ID,
		Operation: op,
		Actors:    actors("", acc.TransferencistaID, ""),
	}
}

func rechargeMutation(r Recharge, id string, op invalidation.Operation) invalidation.Mutation {
	if r.ID == "" {
		r.ID = id
	}
	return invalidation.Mutation{
		Kind:      KindRecharges,
		ID:        r.ID,
		Operation: op,
		Actors:    actors(r.MinoristaID, "", ""),
	}
}
