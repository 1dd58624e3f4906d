package repository

import (
	"context"
	"fmt"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
}

type notificationRepo struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) NotificationRepository {
	return &notificationRepo{db: db}
}

func (r *notificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (
			id, recipient_id, recipient_role, message, notification_type,
			project_id, priority, icon, action_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err := conn(ctx, r.db).QueryRow(ctx, query,
		n.ID,
		n.RecipientID,
		n.RecipientRole,
		n.Message,
		n.NotificationType,
		n.ProjectID,
		string(n.Priority),
		n.Icon,
		n.ActionURL,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}
