package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rewear/apiserver/internal/logger"
	"github.com/rewear/apiserver/internal/mq"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository defines persistence operations for notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n types.Notification) (types.Notification, error)
	ListForUser(ctx context.Context, userID string, unreadOnly bool, offset, limit int) ([]types.Notification, int, error)
	MarkRead(ctx context.Context, id, userID string) error
}

// NotificationService turns exchange events into per-user notifications.
type NotificationService struct {
	repo NotificationRepository
	log  *slog.Logger
}

func NewNotificationService(repo NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo, log: logger.WithComponent("notifications")}
}

// HandleEvent records the notification an exchange event implies. Unknown
// event types are ignored.
func (s *NotificationService) HandleEvent(ctx context.Context, event mq.ExchangeEvent) error {
	n, ok := notificationFor(event)
	if !ok {
		s.log.Debug("ignoring exchange event", "type", event.Type, "request_id", event.RequestID)
		return nil
	}
	if _, err := s.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	s.log.Debug("notification stored", "type", event.Type, "user_id", n.UserID, "request_id", event.RequestID)
	return nil
}

// Notify stores a notification for one user directly.
func (s *NotificationService) Notify(ctx context.Context, userID string, kind types.NotificationType, title, message string) error {
	_, err := s.repo.Create(ctx, types.Notification{
		UserID:  userID,
		Title:   title,
		Message: message,
		Type:    kind,
	})
	return err
}

func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, offset, limit int) ([]types.Notification, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.ListForUser(ctx, userID, unreadOnly, offset, limit)
}

func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	if err := s.repo.MarkRead(ctx, id, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	return nil
}

func notificationFor(event mq.ExchangeEvent) (types.Notification, bool) {
	title := event.ItemTitle
	if title == "" {
		title = "your item"
	} else {
		title = fmt.Sprintf("%q", title)
	}

	switch event.Type {
	case mq.EventSwapRequested:
		return types.Notification{
			UserID:  event.UploaderID,
			Title:   "New swap request",
			Message: fmt.Sprintf("Someone wants %s.", title),
			Type:    types.NotificationSwap,
		}, true
	case mq.EventSwapAccepted:
		return types.Notification{
			UserID:  event.RequesterID,
			Title:   "Swap accepted",
			Message: fmt.Sprintf("Your request for %s was accepted.", title),
			Type:    types.NotificationSwap,
		}, true
	case mq.EventSwapDeclined:
		msg := "Your swap request was declined."
		if event.Reason != "" && event.Reason != "declined" {
			msg = fmt.Sprintf("Your swap request was declined: %s.", event.Reason)
		}
		return types.Notification{
			UserID:  event.RequesterID,
			Title:   "Swap declined",
			Message: msg,
			Type:    types.NotificationSwap,
		}, true
	case mq.EventSwapCancelled:
		return types.Notification{
			UserID:  event.UploaderID,
			Title:   "Swap request withdrawn",
			Message: "A swap request for your item was withdrawn.",
			Type:    types.NotificationSwap,
		}, true
	case mq.EventItemRedeemed:
		return types.Notification{
			UserID:  event.UploaderID,
			Title:   "Item redeemed",
			Message: fmt.Sprintf("%s was redeemed for %d points.", capitalize(title), event.Points),
			Type:    types.NotificationRedeem,
		}, true
	}
	return types.Notification{}, false
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
