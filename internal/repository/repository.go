package repository

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups every store the usecases depend on.
type Repositories struct {
	Transactions  TransactionRepository
	Escrows       EscrowRepository
	Webhooks      WebhookRepository
	Policies      CommissionPolicyRepository
	Projects      ProjectRepository
	Profiles      ProfileRepository
	Notifications NotificationRepository
	Tx            TxManager
}

func NewPostgres(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		Transactions:  NewTransactionRepository(db),
		Escrows:       NewEscrowRepository(db),
		Webhooks:      NewWebhookRepository(db),
		Policies:      NewCommissionPolicyRepository(db),
		Projects:      NewProjectRepository(db),
		Profiles:      NewProfileRepository(db),
		Notifications: NewNotificationRepository(db),
		Tx:            NewTxManager(db),
	}
}
