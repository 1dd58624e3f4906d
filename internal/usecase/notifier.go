package usecase

import (
	"context"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/repository"
	"github.com/RemisonBarawa/Freelance-App/pkg/id"

	"go.uber.org/zap"
)

// notice is a notification row waiting to be written.
type notice struct {
	recipientID *string
	role        string
	kind        string
	message     string
	projectID   string
	priority    domain.NotificationPriority
	icon        string
	actionURL   string
}

func userNotice(userID, kind, message, projectID string, priority domain.NotificationPriority) notice {
	return notice{
		recipientID: domain.StrPtr(userID),
		kind:        kind,
		message:     message,
		projectID:   projectID,
		priority:    priority,
		actionURL:   "/project/" + projectID,
	}
}

func adminNotice(kind, message, projectID string, priority domain.NotificationPriority) notice {
	return notice{
		role:      domain.RoleAdmin,
		kind:      kind,
		message:   message,
		projectID: projectID,
		priority:  priority,
		actionURL: "/admin/escrow",
	}
}

func (n notice) withIcon(icon string) notice {
	n.icon = icon
	return n
}

// Notifier writes in-app notification rows. Delivery is somebody else's job;
// a failed write is logged and never fails the money movement that caused it.
type Notifier struct {
	repo   repository.NotificationRepository
	logger *zap.Logger
}

func NewNotifier(repo repository.NotificationRepository, logger *zap.Logger) *Notifier {
	return &Notifier{repo: repo, logger: logger}
}

func (n *Notifier) send(ctx context.Context, notices ...notice) {
	for _, nt := range notices {
		if nt.recipientID == nil && nt.role == "" {
			n.logger.Warn("dropping notification without recipient",
				zap.String("type", nt.kind),
				zap.String("project_id", nt.projectID))
			continue
		}

		row := &domain.Notification{
			ID:               id.NewID(),
			RecipientID:      nt.recipientID,
			RecipientRole:    domain.StrPtr(nt.role),
			Message:          nt.message,
			NotificationType: nt.kind,
			ProjectID:        domain.StrPtr(nt.projectID),
			Priority:         nt.priority,
			Icon:             nt.icon,
			ActionURL:        nt.actionURL,
		}
		if err := n.repo.Create(ctx, row); err != nil {
			n.logger.Error("failed to create notification",
				zap.String("type", nt.kind),
				zap.String("project_id", nt.projectID),
				zap.Error(err))
		}
	}
}
