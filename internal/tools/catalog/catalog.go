// Package catalog assembles the static HR tool set into a registry.
package catalog

import (
	"fmt"
	"log/slog"

	"github.com/jkaninda/ruhusa/internal/handbook"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
	"github.com/jkaninda/ruhusa/internal/policy"
	"github.com/jkaninda/ruhusa/internal/receipt"
	"github.com/jkaninda/ruhusa/internal/storage"
	"github.com/jkaninda/ruhusa/internal/tools"
	"github.com/jkaninda/ruhusa/internal/tools/account"
	"github.com/jkaninda/ruhusa/internal/tools/expense"
	"github.com/jkaninda/ruhusa/internal/tools/pto"
)

// Deps are the collaborators the tools are built from.
type Deps struct {
	Store     storage.Store
	Engine    *policy.Engine
	Lifecycle *lifecycle.Manager
	Receipts  *receipt.Service // Optional; extract_receipt is omitted without it.
	Handbook  *handbook.Index
	Logger    *slog.Logger
}

// Tools returns every tool in catalog order.
func Tools(d Deps) []tools.Tool {
	out := []tools.Tool{
		account.NewProfileTool(d.Store.Employees(), d.Engine),
		pto.NewBalanceTool(d.Store.Balances(), d.Engine, d.Logger),
		account.NewCalendarTool(d.Store.Calendar(), d.Engine),
		pto.NewValidateTool(d.Engine, d.Logger),
		pto.NewSubmitTool(d.Engine, d.Lifecycle, d.Logger),
		expense.NewValidateTool(d.Engine, d.Receipts, d.Logger),
		expense.NewSubmitTool(d.Engine, d.Lifecycle, d.Receipts, d.Logger),
	}
	if d.Receipts != nil {
		out = append(out, expense.NewExtractTool(d.Receipts, d.Logger))
	}
	out = append(out,
		account.NewListTool(d.Lifecycle),
		account.NewCancelTool(d.Lifecycle, d.Logger),
	)
	if d.Handbook != nil {
		out = append(out, account.NewHandbookTool(d.Handbook))
	}
	return out
}

// NewRegistry registers the catalog.
func NewRegistry(d Deps) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	for _, t := range Tools(d) {
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("registering %s: %w", t.Name(), err)
		}
	}
	return reg, nil
}
