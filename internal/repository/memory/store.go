// Package memory is an in-process implementation of the repositories with the
// same guard semantics as the Postgres ones. It backs the usecase tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/repository"
)

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	transactions  map[string]*domain.Transaction
	escrows       map[string]*domain.EscrowHolding
	webhooks      map[string]*domain.PaymentWebhook
	policies      []domain.CommissionPolicy
	projects      map[string]*domain.Project
	profiles      map[string]*domain.Profile
	notifications []domain.Notification
	projectFlips  map[string]int
}

func NewStore() *Store {
	return &Store{
		now:          time.Now,
		transactions: make(map[string]*domain.Transaction),
		escrows:      make(map[string]*domain.EscrowHolding),
		webhooks:     make(map[string]*domain.PaymentWebhook),
		projects:     make(map[string]*domain.Project),
		profiles:     make(map[string]*domain.Profile),
		projectFlips: make(map[string]int),
	}
}

// SetNow replaces the clock used for updated_at stamps.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Transactions:  &transactions{s},
		Escrows:       &escrows{s},
		Webhooks:      &webhooks{s},
		Policies:      &policies{s},
		Projects:      &projects{s},
		Profiles:      &profiles{s},
		Notifications: &notifications{s},
		Tx:            txManager{},
	}
}

// Seed helpers.

func (s *Store) PutProject(p domain.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = &p
}

func (s *Store) PutProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = &p
}

func (s *Store) PutPolicy(p domain.CommissionPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = append(s.policies, p)
}

func (s *Store) PutEscrow(e domain.EscrowHolding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escrows[e.ID] = &e
}

func (s *Store) PutTransaction(tx domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneTx(&tx)
	s.transactions[tx.ID] = c
}

// Inspection helpers.

func (s *Store) Project(id string) (domain.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return domain.Project{}, false
	}
	return *p, true
}

// ProjectFlips counts OpenForBidding calls that changed the project.
func (s *Store) ProjectFlips(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectFlips[id]
}

func (s *Store) Transactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		out = append(out, *cloneTx(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Escrows() []domain.EscrowHolding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EscrowHolding, 0, len(s.escrows))
	for _, e := range s.escrows {
		out = append(out, *e)
	}
	return out
}

func (s *Store) Webhooks() []domain.PaymentWebhook {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PaymentWebhook, 0, len(s.webhooks))
	for _, w := range s.webhooks {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Notifications() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.notifications...)
}

// txManager runs fn directly; each store call is atomic on its own.
type txManager struct{}

func (txManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func cloneTx(tx *domain.Transaction) *domain.Transaction {
	c := *tx
	c.Metadata = domain.Metadata{}.Merge(tx.Metadata)
	return &c
}

func containsStatus[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
