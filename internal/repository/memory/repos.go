package memory

import (
	"context"
	"sort"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
)

type transactions struct{ s *Store }

func (r *transactions) Create(_ context.Context, tx *domain.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if tx.TransactionType == domain.TxTypePayout && isActive(tx.Status) {
		escrowID, _ := tx.Metadata.String(domain.MetaEscrowID)
		for _, existing := range r.s.transactions {
			if existing.TransactionType != domain.TxTypePayout || !isActive(existing.Status) {
				continue
			}
			if id, _ := existing.Metadata.String(domain.MetaEscrowID); id == escrowID {
				return domain.ErrPayoutInProgress
			}
		}
	}

	now := r.s.now()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	if tx.Metadata == nil {
		tx.Metadata = domain.Metadata{}
	}
	r.s.transactions[tx.ID] = cloneTx(tx)
	return nil
}

func (r *transactions) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, ok := r.s.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return cloneTx(tx), nil
}

func (r *transactions) GetByProviderID(_ context.Context, providerTxID string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var found *domain.Transaction
	for _, tx := range r.s.transactions {
		if domain.Deref(tx.ProviderTransactionID) != providerTxID {
			continue
		}
		if found == nil || tx.CreatedAt.After(found.CreatedAt) {
			found = tx
		}
	}
	if found == nil {
		return nil, domain.ErrTransactionNotFound
	}
	return cloneTx(found), nil
}

func (r *transactions) GetByReference(_ context.Context, reference string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var found *domain.Transaction
	for _, tx := range r.s.transactions {
		originator, _ := tx.Metadata.String(domain.MetaOriginatorConvID)
		if domain.Deref(tx.ReferenceNumber) != reference && originator != reference {
			continue
		}
		if found == nil || tx.CreatedAt.After(found.CreatedAt) {
			found = tx
		}
	}
	if found == nil {
		return nil, domain.ErrTransactionNotFound
	}
	return cloneTx(found), nil
}

func (r *transactions) ListByProject(_ context.Context, projectID string) ([]*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Transaction
	for _, tx := range r.s.transactions {
		if tx.ProjectID == projectID {
			out = append(out, cloneTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *transactions) ListStale(_ context.Context, olderThan time.Time, limit int) ([]*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Transaction
	for _, tx := range r.s.transactions {
		if tx.Status == domain.TxStatusProcessing && tx.UpdatedAt.Before(olderThan) {
			out = append(out, cloneTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *transactions) FindActivePayout(_ context.Context, escrowID string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, tx := range r.s.transactions {
		if tx.TransactionType != domain.TxTypePayout || !isActive(tx.Status) {
			continue
		}
		if id, _ := tx.Metadata.String(domain.MetaEscrowID); id == escrowID {
			return cloneTx(tx), nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (r *transactions) UpdateIf(_ context.Context, id string, expected []domain.TransactionStatus, upd domain.TransactionUpdate) (int64, error) {
	if len(expected) == 0 {
		return 0, domain.ErrInvalidTransition
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, ok := r.s.transactions[id]
	if !ok || !containsStatus(expected, tx.Status) {
		return 0, nil
	}

	if upd.Status != nil {
		tx.Status = *upd.Status
	}
	if upd.ProviderTransactionID != nil {
		tx.ProviderTransactionID = upd.ProviderTransactionID
	}
	if upd.ReferenceNumber != nil {
		tx.ReferenceNumber = upd.ReferenceNumber
	}
	if upd.ReceiptNumber != nil {
		tx.ReceiptNumber = upd.ReceiptNumber
	}
	if len(upd.MetadataPatch) > 0 {
		tx.Metadata = tx.Metadata.Merge(upd.MetadataPatch)
	}
	if tx.CompletedAt == nil && upd.CompletedAt != nil {
		t := *upd.CompletedAt
		tx.CompletedAt = &t
	}
	tx.UpdatedAt = r.s.now()
	return 1, nil
}

func isActive(s domain.TransactionStatus) bool {
	return s == domain.TxStatusPending || s == domain.TxStatusProcessing
}

type escrows struct{ s *Store }

func (r *escrows) Create(_ context.Context, e *domain.EscrowHolding) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.escrows {
		if existing.TransactionID == e.TransactionID {
			e.ID = existing.ID
			return false, nil
		}
	}

	now := r.s.now()
	e.CreatedAt = now
	e.UpdatedAt = now
	c := *e
	r.s.escrows[e.ID] = &c
	return true, nil
}

func (r *escrows) GetByID(_ context.Context, id string) (*domain.EscrowHolding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.escrows[id]
	if !ok {
		return nil, domain.ErrEscrowNotFound
	}
	c := *e
	return &c, nil
}

func (r *escrows) GetByTransactionID(_ context.Context, transactionID string) (*domain.EscrowHolding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range r.s.escrows {
		if e.TransactionID == transactionID {
			c := *e
			return &c, nil
		}
	}
	return nil, domain.ErrEscrowNotFound
}

func (r *escrows) ListByProject(_ context.Context, projectID string) ([]*domain.EscrowHolding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.EscrowHolding
	for _, e := range r.s.escrows {
		if e.ProjectID == projectID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *escrows) UpdateIf(_ context.Context, id string, expected []domain.EscrowStatus, upd domain.EscrowUpdate) (int64, error) {
	if len(expected) == 0 {
		return 0, domain.ErrInvalidTransition
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.escrows[id]
	if !ok || !containsStatus(expected, e.Status) {
		return 0, nil
	}

	if upd.Status != nil {
		e.Status = *upd.Status
	}
	if e.ReleasedAt == nil && upd.ReleasedAt != nil {
		t := *upd.ReleasedAt
		e.ReleasedAt = &t
	}
	if upd.HoldReason != nil {
		e.HoldReason = upd.HoldReason
	}
	if upd.FreelancerID != nil {
		e.FreelancerID = upd.FreelancerID
	}
	e.UpdatedAt = r.s.now()
	return 1, nil
}

func (r *escrows) AssignFreelancer(_ context.Context, projectID, freelancerID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, e := range r.s.escrows {
		if e.ProjectID != projectID {
			continue
		}
		if e.Status != domain.EscrowStatusHeld && e.Status != domain.EscrowStatusDisputed {
			continue
		}
		id := freelancerID
		e.FreelancerID = &id
		e.UpdatedAt = r.s.now()
		n++
	}
	return n, nil
}

type webhooks struct{ s *Store }

func (r *webhooks) Create(_ context.Context, w *domain.PaymentWebhook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w.CreatedAt = r.s.now()
	w.Processed = false
	c := *w
	r.s.webhooks[w.ID] = &c
	return nil
}

func (r *webhooks) GetByID(_ context.Context, id string) (*domain.PaymentWebhook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	c := *w
	return &c, nil
}

func (r *webhooks) MarkProcessed(_ context.Context, id string, transactionID, errorMessage *string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	w.Processed = true
	w.ProcessedAt = &at
	if transactionID != nil {
		w.TransactionID = transactionID
	}
	w.ErrorMessage = errorMessage
	return nil
}

func (r *webhooks) RecordError(_ context.Context, id, errorMessage string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	if !w.Processed {
		msg := errorMessage
		w.ErrorMessage = &msg
	}
	return nil
}

type policies struct{ s *Store }

func (r *policies) ListActive(context.Context) ([]domain.CommissionPolicy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.CommissionPolicy
	for _, p := range r.s.policies {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

type projects struct{ s *Store }

func (r *projects) GetByID(_ context.Context, id string) (*domain.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.projects[id]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	c := *p
	return &c, nil
}

func (r *projects) OpenForBidding(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.projects[id]
	if !ok {
		return false, nil
	}
	if p.Status == domain.ProjectStatusOpen && p.AvailableForBidding {
		return false, nil
	}
	p.Status = domain.ProjectStatusOpen
	p.AvailableForBidding = true
	p.UpdatedAt = r.s.now()
	r.s.projectFlips[id]++
	return true, nil
}

func (r *projects) Assign(_ context.Context, id, freelancerID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.projects[id]
	if !ok {
		return domain.ErrProjectNotFound
	}
	f := freelancerID
	p.AssignedTo = &f
	p.Status = domain.ProjectStatusInProgress
	p.AvailableForBidding = false
	p.UpdatedAt = r.s.now()
	return nil
}

type profiles struct{ s *Store }

func (r *profiles) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.profiles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *p
	return &c, nil
}

type notifications struct{ s *Store }

func (r *notifications) Create(_ context.Context, n *domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n.CreatedAt = r.s.now()
	r.s.notifications = append(r.s.notifications, *n)
	return nil
}
