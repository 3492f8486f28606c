package workflow

import (
	"context"

	"github.com/pkg/errors"

	"github.com/casaflow/engine/internal/domain"
)

const (
	defaultExpenseCategory = "other"
	defaultCurrency        = "PYG"
	defaultPaymentMethod   = "bank_transfer"
)

func (e *Executor) createExpense(ctx context.Context, orgID string, cfg ExpenseConfig, evCtx domain.Context) (Result, error) {
	if !cfg.AmountSet {
		return skipf("expense amount missing or unparsable")
	}
	if cfg.Amount <= 0 {
		return skipf("expense amount %v not positive", cfg.Amount)
	}

	category := cfg.Category
	if category == "" {
		category = defaultExpenseCategory
	}
	currency := cfg.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	method := cfg.PaymentMethod
	if method == "" {
		method = defaultPaymentMethod
	}

	expense := domain.Expense{
		OrganizationID: orgID,
		Category:       category,
		ExpenseDate:    e.now().UTC().Format("2006-01-02"),
		Amount:         cfg.Amount,
		Currency:       currency,
		PaymentMethod:  method,
		Description:    ResolveTemplate(cfg.Description, evCtx),
		PropertyID:     evCtx.String("property_id"),
		UnitID:         evCtx.String("unit_id"),
	}

	if _, err := e.stores.Expenses.CreateExpense(ctx, expense); err != nil {
		return Result{}, errors.Wrap(err, "create expense")
	}
	return succeeded, nil
}
