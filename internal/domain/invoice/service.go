package invoice

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"tenantdb/internal/core/apperror"
	"tenantdb/internal/core/clock"
	"tenantdb/internal/core/datafilter"
	"tenantdb/internal/core/id"
	"tenantdb/internal/core/uow"
	"tenantdb/internal/infrastructure/storage/sqlstore"
	"tenantdb/pkg/logger"
	"tenantdb/pkg/numerator"
)

// NumberPrefix is the numerator prefix of invoice numbers.
const NumberPrefix = "INV"

// ListFilter narrows List.
type ListFilter struct {
	Customer string
	Status   Status
	// IncludeDeleted lists soft-deleted invoices too.
	IncludeDeleted bool
	Limit          uint64
	Offset         uint64
}

// Service provides business operations for invoices and notes.
// Operations join the unit of work on ctx, or run in their own.
type Service struct {
	uow       *uow.Manager
	invoices  *sqlstore.Repository[Invoice]
	notes     *sqlstore.Repository[Note]
	numerator *numerator.Service
	clock     clock.Clock
}

// NewService creates a new invoice service.
func NewService(
	manager *uow.Manager,
	invoices *sqlstore.Repository[Invoice],
	notes *sqlstore.Repository[Note],
	numbers *numerator.Service,
	clk clock.Clock,
) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		uow:       manager,
		invoices:  invoices,
		notes:     notes,
		numerator: numbers,
		clock:     clk,
	}
}

// unit returns the ambient unit of work, or begins one the caller must end.
func (s *Service) unit(ctx context.Context) (context.Context, *uow.UnitOfWork, func()) {
	if sess, ok := uow.Current(ctx); ok {
		return ctx, sess.Unit(), func() {}
	}
	ctx, u := s.uow.Begin(ctx)
	return ctx, u, u.Close
}

// Create validates and inserts a new invoice, numbering it when needed.
func (s *Service) Create(ctx context.Context, inv *Invoice) error {
	if inv.Status == "" {
		inv.Status = StatusDraft
	}
	if err := inv.Validate(ctx); err != nil {
		return err
	}

	ctx, u, done := s.unit(ctx)
	defer done()

	if inv.Number == "" {
		number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig(NumberPrefix), nil, s.clock.Now())
		if err != nil {
			return fmt.Errorf("generate number: %w", err)
		}
		inv.Number = number
	}

	if err := u.Insert(inv); err != nil {
		return err
	}
	if _, err := u.Save(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "invoice created", "id", inv.ID, "number", inv.Number)
	return nil
}

// Get returns a visible invoice.
func (s *Service) Get(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	ctx, _, done := s.unit(ctx)
	defer done()
	return s.invoices.Get(ctx, invoiceID)
}

// List returns visible invoices matching f and their total count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Invoice, int64, error) {
	ctx, u, done := s.unit(ctx)
	defer done()
	if f.IncludeDeleted {
		ctx = u.DisableFilter(ctx, datafilter.SoftDelete)
	}

	where := squirrel.And{}
	if f.Customer != "" {
		where = append(where, squirrel.Eq{"customer": f.Customer})
	}
	if f.Status != "" {
		where = append(where, squirrel.Eq{"status": f.Status})
	}
	q := sqlstore.Query{OrderBy: []string{"number"}, Limit: f.Limit, Offset: f.Offset}
	if len(where) > 0 {
		q.Where = where
	}

	items, err := s.invoices.Find(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.invoices.Count(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update writes changed fields of a loaded invoice. A stale version is a
// CONCURRENT_MODIFICATION error.
func (s *Service) Update(ctx context.Context, inv *Invoice) error {
	if err := inv.Validate(ctx); err != nil {
		return err
	}
	ctx, u, done := s.unit(ctx)
	defer done()

	if err := u.Update(inv); err != nil {
		return err
	}
	_, err := u.Save(ctx)
	return err
}

// Issue issues a draft invoice.
func (s *Service) Issue(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	return s.transition(ctx, invoiceID, func(inv *Invoice) error {
		return inv.Issue(s.clock.Now())
	})
}

// Cancel cancels an issued invoice.
func (s *Service) Cancel(ctx context.Context, invoiceID id.ID, reason string) (*Invoice, error) {
	return s.transition(ctx, invoiceID, func(inv *Invoice) error {
		return inv.Cancel(reason)
	})
}

func (s *Service) transition(ctx context.Context, invoiceID id.ID, apply func(*Invoice) error) (*Invoice, error) {
	ctx, u, done := s.unit(ctx)
	defer done()

	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := apply(inv); err != nil {
		return nil, err
	}
	if err := u.Update(inv); err != nil {
		return nil, err
	}
	if _, err := u.Save(ctx); err != nil {
		return nil, err
	}
	logger.Info(ctx, "invoice status changed", "id", inv.ID, "status", inv.Status)
	return inv, nil
}

// Delete soft-deletes an invoice.
func (s *Service) Delete(ctx context.Context, invoiceID id.ID) error {
	ctx, u, done := s.unit(ctx)
	defer done()

	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	if err := u.Delete(inv); err != nil {
		return err
	}
	_, err = u.Save(ctx)
	return err
}

// HardDelete physically removes an invoice, soft-deleted or not.
func (s *Service) HardDelete(ctx context.Context, invoiceID id.ID) error {
	ctx, u, done := s.unit(ctx)
	defer done()

	inv, err := s.invoices.Get(u.DisableFilter(ctx, datafilter.SoftDelete), invoiceID)
	if err != nil {
		return err
	}
	if err := u.MarkForHardDelete(inv); err != nil {
		return err
	}
	if err := u.Delete(inv); err != nil {
		return err
	}
	if _, err := u.Save(ctx); err != nil {
		return err
	}
	logger.Info(ctx, "invoice purged", "id", inv.ID, "number", inv.Number)
	return nil
}

// Restore brings a soft-deleted invoice back.
func (s *Service) Restore(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	ctx, u, done := s.unit(ctx)
	defer done()

	inv, err := s.invoices.Get(u.DisableFilter(ctx, datafilter.SoftDelete), invoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.IsDeleted() {
		return nil, apperror.NewConflict("invoice is not deleted").WithDetail("id", invoiceID)
	}
	inv.Restore()
	if err := u.Update(inv); err != nil {
		return nil, err
	}
	if _, err := u.Save(ctx); err != nil {
		return nil, err
	}
	return inv, nil
}

// AddNote stores a note for the ambient tenant, or for the host.
func (s *Service) AddNote(ctx context.Context, text string) (*Note, error) {
	n := &Note{Text: text}
	if err := n.Validate(ctx); err != nil {
		return nil, err
	}
	ctx, u, done := s.unit(ctx)
	defer done()

	if err := u.Insert(n); err != nil {
		return nil, err
	}
	if _, err := u.Save(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

// Notes lists the visible notes. With the MayHaveTenant filter on, a
// tenant sees its own notes and the host sees host notes.
func (s *Service) Notes(ctx context.Context) ([]*Note, error) {
	ctx, _, done := s.unit(ctx)
	defer done()
	return s.notes.Find(ctx, sqlstore.Query{OrderBy: []string{"created_at"}})
}
