package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/logger"
	"github.com/rewear/apiserver/internal/mq"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

// Ledger is the data access the exchange workflow needs. Every mutation is
// conditional: SetItemStatus and UpdateSwapRequestStatus return
// store.ErrConflict when the current status is not from, and
// AdjustUserPoints returns store.ErrInsufficientPoints instead of taking a
// balance below zero.
type Ledger interface {
	GetItem(ctx context.Context, id string) (types.Item, error)
	SetItemStatus(ctx context.Context, id string, from, to types.ItemStatus) error
	GetUserPoints(ctx context.Context, userID string) (int, error)
	AdjustUserPoints(ctx context.Context, userID string, delta int, entry store.PointsEntry) (int, error)
	GetSwapRequest(ctx context.Context, id string) (types.SwapRequest, error)
	CreateSwapRequest(ctx context.Context, req types.SwapRequest) (types.SwapRequest, error)
	UpdateSwapRequestStatus(ctx context.Context, id string, from, to types.SwapStatus) (types.SwapRequest, error)
	ListPendingRequestsForItem(ctx context.Context, itemID string) ([]types.SwapRequest, error)
}

// EventPublisher receives committed exchange events.
type EventPublisher interface {
	PublishExchangeEvent(ctx context.Context, event mq.ExchangeEvent) error
}

// SwapProposal is a request to swap for (or simply ask for) an item.
type SwapProposal struct {
	ItemID          string
	RequesterID     string
	RequesterItemID string
	Message         string
}

type AcceptResult struct {
	Request types.SwapRequest `json:"request"`
	Items   []types.Item      `json:"items"`
}

type RedeemResult struct {
	Request types.SwapRequest `json:"request"`
	Item    types.Item        `json:"item"`
	Balance int               `json:"balance"`
}

// ExchangeService runs the swap and redemption workflows.
type ExchangeService struct {
	ledger Ledger
	events EventPublisher
	log    *slog.Logger
	newID  func() string
	now    func() time.Time
}

// NewExchangeService builds the workflow engine. events may be nil.
func NewExchangeService(ledger Ledger, events EventPublisher) *ExchangeService {
	return &ExchangeService{
		ledger: ledger,
		events: events,
		log:    logger.WithComponent("exchange"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// RequestSwap records a pending request from a user for someone else's item,
// optionally offering one of their own items in return.
func (s *ExchangeService) RequestSwap(ctx context.Context, p SwapProposal) (types.SwapRequest, error) {
	item, err := s.getItem(ctx, p.ItemID)
	if err != nil {
		return types.SwapRequest{}, err
	}
	if item.UploaderID == p.RequesterID {
		return types.SwapRequest{}, s.rejected("request swap", ErrSelfTransaction, "item_id", item.ID)
	}
	if item.Status != types.ItemAvailable {
		return types.SwapRequest{}, s.rejected("request swap", ErrItemUnavailable, "item_id", item.ID)
	}

	offerID := strings.TrimSpace(p.RequesterItemID)
	if offerID != "" {
		if offerID == item.ID {
			return types.SwapRequest{}, fmt.Errorf("%w: cannot offer the requested item", ErrInvalidOffer)
		}
		offered, err := s.ledger.GetItem(ctx, offerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return types.SwapRequest{}, fmt.Errorf("%w: offered item not found", ErrInvalidOffer)
			}
			return types.SwapRequest{}, fmt.Errorf("failed to load offered item: %w", err)
		}
		if offered.UploaderID != p.RequesterID {
			return types.SwapRequest{}, fmt.Errorf("%w: offered item is not yours", ErrInvalidOffer)
		}
		if offered.Status != types.ItemAvailable {
			return types.SwapRequest{}, fmt.Errorf("offered item: %w", ErrItemUnavailable)
		}
	}

	pending, err := s.ledger.ListPendingRequestsForItem(ctx, item.ID)
	if err != nil {
		return types.SwapRequest{}, fmt.Errorf("failed to list pending requests: %w", err)
	}
	for _, r := range pending {
		if r.ItemID == item.ID && r.RequesterID == p.RequesterID && r.Type == types.SwapTypeSwap {
			return types.SwapRequest{}, s.rejected("request swap", ErrDuplicateRequest, "item_id", item.ID)
		}
	}

	req, err := s.ledger.CreateSwapRequest(ctx, types.SwapRequest{
		ID:              s.newID(),
		ItemID:          item.ID,
		RequesterID:     p.RequesterID,
		UploaderID:      item.UploaderID,
		RequesterItemID: offerID,
		Type:            types.SwapTypeSwap,
		Status:          types.SwapPending,
		Message:         strings.TrimSpace(p.Message),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.SwapRequest{}, ErrDuplicateRequest
		}
		return types.SwapRequest{}, fmt.Errorf("failed to create swap request: %w", err)
	}

	s.publish(ctx, mq.EventSwapRequested, req, item.Title, p.RequesterID, 0, "")
	return req, nil
}

// AcceptSwap lets the item's owner accept a pending swap request. Both items
// (when one was offered) become swapped and the request completes. Other
// pending swap requests on either item are declined.
func (s *ExchangeService) AcceptSwap(ctx context.Context, requestID, actingUserID string) (AcceptResult, error) {
	const op = "accept swap"

	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return AcceptResult{}, err
	}
	if req.UploaderID != actingUserID {
		return AcceptResult{}, s.rejected(op, ErrNotAuthorized, "request_id", req.ID)
	}
	if req.Type != types.SwapTypeSwap || req.Status != types.SwapPending {
		return AcceptResult{}, s.rejected(op, ErrRequestNotPending, "request_id", req.ID)
	}

	item, err := s.availableItem(ctx, req.ItemID, "")
	if err != nil {
		return AcceptResult{}, err
	}
	items := []types.Item{item}
	if req.RequesterItemID != "" {
		offered, err := s.availableItem(ctx, req.RequesterItemID, req.RequesterID)
		if err != nil {
			return AcceptResult{}, fmt.Errorf("offered item: %w", err)
		}
		items = append(items, offered)
	}

	if _, err := s.ledger.UpdateSwapRequestStatus(ctx, req.ID, types.SwapPending, types.SwapAccepted); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.log.Info("swap request changed concurrently", "op", op, "request_id", req.ID)
			return AcceptResult{}, ErrRequestNotPending
		}
		return AcceptResult{}, fmt.Errorf("failed to accept swap request: %w", err)
	}

	claimed := make([]string, 0, len(items))
	for i := range items {
		if err := s.ledger.SetItemStatus(ctx, items[i].ID, types.ItemAvailable, types.ItemSwapped); err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				err = fmt.Errorf("item %s: %w", items[i].ID, ErrItemUnavailable)
			}
			return AcceptResult{}, s.abortAccept(ctx, req, claimed, err)
		}
		claimed = append(claimed, items[i].ID)
		items[i].Status = types.ItemSwapped
	}

	completed, err := s.ledger.UpdateSwapRequestStatus(ctx, req.ID, types.SwapAccepted, types.SwapCompleted)
	if err != nil {
		return AcceptResult{}, s.abortAccept(ctx, req, claimed, err)
	}

	s.declineSuperseded(ctx, completed.ID, actingUserID, claimed...)
	s.publish(ctx, mq.EventSwapAccepted, completed, item.Title, actingUserID, 0, "")
	return AcceptResult{Request: completed, Items: items}, nil
}

// abortAccept undoes the item claims and returns the request to pending. A
// lost race on an item is reported as ErrItemUnavailable once everything is
// restored.
func (s *ExchangeService) abortAccept(ctx context.Context, req types.SwapRequest, claimed []string, cause error) error {
	const op = "accept swap"

	var rollbackErrs []error
	for i := len(claimed) - 1; i >= 0; i-- {
		if err := s.ledger.SetItemStatus(ctx, claimed[i], types.ItemSwapped, types.ItemAvailable); err != nil {
			rollbackErrs = append(rollbackErrs, fmt.Errorf("restore item %s: %w", claimed[i], err))
		}
	}
	if _, err := s.ledger.UpdateSwapRequestStatus(ctx, req.ID, types.SwapAccepted, types.SwapPending); err != nil {
		rollbackErrs = append(rollbackErrs, fmt.Errorf("restore request %s: %w", req.ID, err))
	}

	if len(rollbackErrs) > 0 {
		return s.inconsistent(op, cause, errors.Join(rollbackErrs...), "request_id", req.ID)
	}
	if errors.Is(cause, ErrItemUnavailable) {
		s.log.Info("item changed concurrently", "op", op, "request_id", req.ID, "error", cause)
		return cause
	}
	s.log.Warn("exchange rolled back", "op", op, "request_id", req.ID, "error", cause)
	return &PartialFailureError{Op: op, Err: cause}
}

// DeclineSwap lets the item's owner turn down a pending request.
func (s *ExchangeService) DeclineSwap(ctx context.Context, requestID, actingUserID string) (types.SwapRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return types.SwapRequest{}, err
	}
	if req.UploaderID != actingUserID {
		return types.SwapRequest{}, s.rejected("decline swap", ErrNotAuthorized, "request_id", req.ID)
	}
	declined, err := s.closePending(ctx, req)
	if err != nil {
		return types.SwapRequest{}, err
	}
	s.publish(ctx, mq.EventSwapDeclined, declined, "", actingUserID, 0, "declined")
	return declined, nil
}

// CancelSwap lets the requester withdraw their own pending request.
func (s *ExchangeService) CancelSwap(ctx context.Context, requestID, actingUserID string) (types.SwapRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return types.SwapRequest{}, err
	}
	if req.RequesterID != actingUserID {
		return types.SwapRequest{}, s.rejected("cancel swap", ErrNotAuthorized, "request_id", req.ID)
	}
	cancelled, err := s.closePending(ctx, req)
	if err != nil {
		return types.SwapRequest{}, err
	}
	s.publish(ctx, mq.EventSwapCancelled, cancelled, "", actingUserID, 0, "cancelled")
	return cancelled, nil
}

func (s *ExchangeService) closePending(ctx context.Context, req types.SwapRequest) (types.SwapRequest, error) {
	if req.Status != types.SwapPending {
		return types.SwapRequest{}, ErrRequestNotPending
	}
	updated, err := s.ledger.UpdateSwapRequestStatus(ctx, req.ID, types.SwapPending, types.SwapDeclined)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.SwapRequest{}, ErrRequestNotPending
		}
		return types.SwapRequest{}, fmt.Errorf("failed to update swap request: %w", err)
	}
	return updated, nil
}

// AtomicRedeemer is implemented by ledgers that can claim the item, debit the
// requester and record the redemption in one transaction.
// store.LedgerStore does; ledgers without it get the stepwise flow with
// compensation.
type AtomicRedeemer interface {
	RedeemItem(ctx context.Context, req types.SwapRequest, price int) (types.SwapRequest, int, error)
}

// RedeemWithPoints transfers an item to the requester in exchange for its
// point value. The debit, the item claim and the completed request record
// either all take effect or none do.
func (s *ExchangeService) RedeemWithPoints(ctx context.Context, itemID, requesterID string) (RedeemResult, error) {
	const op = "redeem item"

	item, err := s.getItem(ctx, itemID)
	if err != nil {
		return RedeemResult{}, err
	}
	if item.UploaderID == requesterID {
		return RedeemResult{}, s.rejected(op, ErrSelfTransaction, "item_id", item.ID)
	}
	if item.Status != types.ItemAvailable {
		return RedeemResult{}, s.rejected(op, ErrItemUnavailable, "item_id", item.ID)
	}

	balance, err := s.ledger.GetUserPoints(ctx, requesterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RedeemResult{}, ErrUserNotFound
		}
		return RedeemResult{}, fmt.Errorf("failed to read balance: %w", err)
	}
	if balance < item.PointValue {
		return RedeemResult{}, s.rejected(op, &InsufficientPointsError{Required: item.PointValue, Available: balance}, "item_id", item.ID)
	}

	pending := types.SwapRequest{
		ID:          s.newID(),
		ItemID:      item.ID,
		RequesterID: requesterID,
		UploaderID:  item.UploaderID,
		Type:        types.SwapTypePoints,
		Status:      types.SwapCompleted,
	}

	var req types.SwapRequest
	var newBalance int
	if atomic, ok := s.ledger.(AtomicRedeemer); ok {
		req, newBalance, err = s.redeemInTx(ctx, atomic, item, pending)
	} else {
		req, newBalance, err = s.redeemInSteps(ctx, item, pending)
	}
	if err != nil {
		return RedeemResult{}, err
	}
	item.Status = types.ItemRedeemed

	s.declineSuperseded(ctx, req.ID, requesterID, item.ID)
	s.publish(ctx, mq.EventItemRedeemed, req, item.Title, requesterID, item.PointValue, "")
	return RedeemResult{Request: req, Item: item, Balance: newBalance}, nil
}

func (s *ExchangeService) redeemInTx(ctx context.Context, ledger AtomicRedeemer, item types.Item, pending types.SwapRequest) (types.SwapRequest, int, error) {
	const op = "redeem item"

	req, balance, err := ledger.RedeemItem(ctx, pending, item.PointValue)
	switch {
	case err == nil:
		return req, balance, nil
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		s.log.Info("item changed concurrently", "op", op, "item_id", item.ID)
		return types.SwapRequest{}, 0, ErrItemUnavailable
	case errors.Is(err, store.ErrStale):
		s.log.Info("item repriced concurrently", "op", op, "item_id", item.ID)
		return types.SwapRequest{}, 0, ErrItemChanged
	case errors.Is(err, store.ErrInsufficientPoints):
		return types.SwapRequest{}, 0, s.insufficient(ctx, op, item, pending.RequesterID)
	}
	return types.SwapRequest{}, 0, fmt.Errorf("failed to redeem item: %w", err)
}

// redeemInSteps debits, claims and records as separate writes, undoing the
// earlier ones when a later one fails.
func (s *ExchangeService) redeemInSteps(ctx context.Context, item types.Item, pending types.SwapRequest) (types.SwapRequest, int, error) {
	const op = "redeem item"
	requesterID, requestID := pending.RequesterID, pending.ID

	newBalance, err := s.ledger.AdjustUserPoints(ctx, requesterID, -item.PointValue, store.PointsEntry{
		Reason:         types.PointsRedemptionDebit,
		IdempotencyKey: "redeem:" + requestID,
		SwapRequestID:  requestID,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientPoints) {
			return types.SwapRequest{}, 0, s.insufficient(ctx, op, item, requesterID)
		}
		return types.SwapRequest{}, 0, fmt.Errorf("failed to debit points: %w", err)
	}

	if err := s.ledger.SetItemStatus(ctx, item.ID, types.ItemAvailable, types.ItemRedeemed); err != nil {
		if refundErr := s.refund(ctx, requesterID, item.PointValue, requestID); refundErr != nil {
			return types.SwapRequest{}, 0, s.inconsistent(op, err, refundErr, "item_id", item.ID, "request_id", requestID)
		}
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			s.log.Info("item changed concurrently", "op", op, "item_id", item.ID)
			return types.SwapRequest{}, 0, ErrItemUnavailable
		}
		s.log.Warn("exchange rolled back", "op", op, "item_id", item.ID, "error", err)
		return types.SwapRequest{}, 0, &PartialFailureError{Op: op, Err: err}
	}

	// The price is frozen once the item left available; it must still be
	// the one that was debited.
	current, err := s.ledger.GetItem(ctx, item.ID)
	if err != nil || current.PointValue != item.PointValue {
		cause := err
		if cause == nil {
			cause = ErrItemChanged
		}
		if undoErr := s.undoRedeem(ctx, item, requesterID, requestID); undoErr != nil {
			return types.SwapRequest{}, 0, s.inconsistent(op, cause, undoErr, "item_id", item.ID, "request_id", requestID)
		}
		if err != nil {
			s.log.Warn("exchange rolled back", "op", op, "item_id", item.ID, "error", err)
			return types.SwapRequest{}, 0, &PartialFailureError{Op: op, Err: err}
		}
		s.log.Info("item repriced concurrently", "op", op, "item_id", item.ID)
		return types.SwapRequest{}, 0, ErrItemChanged
	}

	req, err := s.ledger.CreateSwapRequest(ctx, pending)
	if err != nil {
		if undoErr := s.undoRedeem(ctx, item, requesterID, requestID); undoErr != nil {
			return types.SwapRequest{}, 0, s.inconsistent(op, err, undoErr, "item_id", item.ID, "request_id", requestID)
		}
		s.log.Warn("exchange rolled back", "op", op, "item_id", item.ID, "error", err)
		return types.SwapRequest{}, 0, &PartialFailureError{Op: op, Err: err}
	}
	return req, newBalance, nil
}

// undoRedeem puts a claimed item back on offer and refunds the debit.
func (s *ExchangeService) undoRedeem(ctx context.Context, item types.Item, requesterID, requestID string) error {
	var errs []error
	if err := s.ledger.SetItemStatus(ctx, item.ID, types.ItemRedeemed, types.ItemAvailable); err != nil {
		errs = append(errs, fmt.Errorf("restore item: %w", err))
	}
	if err := s.refund(ctx, requesterID, item.PointValue, requestID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// insufficient reports a debit the balance could not cover, with the balance
// as it is now.
func (s *ExchangeService) insufficient(ctx context.Context, op string, item types.Item, userID string) error {
	available, err := s.ledger.GetUserPoints(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read balance after rejected debit: %w", err)
	}
	return s.rejected(op, &InsufficientPointsError{Required: item.PointValue, Available: available}, "item_id", item.ID)
}

func (s *ExchangeService) refund(ctx context.Context, userID string, amount int, requestID string) error {
	_, err := s.ledger.AdjustUserPoints(ctx, userID, amount, store.PointsEntry{
		Reason:         types.PointsRedemptionRefund,
		IdempotencyKey: "refund:" + requestID,
		SwapRequestID:  requestID,
	})
	if err != nil {
		return fmt.Errorf("refund points: %w", err)
	}
	return nil
}

// declineSuperseded declines pending swap requests that reference items which
// just left the available state. Failures are logged: such requests can no
// longer be accepted anyway.
func (s *ExchangeService) declineSuperseded(ctx context.Context, completedID, actorID string, itemIDs ...string) {
	seen := map[string]bool{completedID: true}
	for _, itemID := range itemIDs {
		pending, err := s.ledger.ListPendingRequestsForItem(ctx, itemID)
		if err != nil {
			s.log.Warn("failed to list superseded requests", "item_id", itemID, "error", err)
			continue
		}
		for _, r := range pending {
			if seen[r.ID] || r.Type != types.SwapTypeSwap {
				continue
			}
			seen[r.ID] = true
			declined, err := s.ledger.UpdateSwapRequestStatus(ctx, r.ID, types.SwapPending, types.SwapDeclined)
			if err != nil {
				if !errors.Is(err, store.ErrConflict) {
					s.log.Warn("failed to decline superseded request", "request_id", r.ID, "error", err)
				}
				continue
			}
			s.publish(ctx, mq.EventSwapDeclined, declined, "", actorID, 0, "item no longer available")
		}
	}
}

func (s *ExchangeService) getItem(ctx context.Context, id string) (types.Item, error) {
	item, err := s.ledger.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Item{}, ErrItemNotFound
		}
		return types.Item{}, fmt.Errorf("failed to load item: %w", err)
	}
	return item, nil
}

// availableItem loads an item for acceptance. A deleted or already exchanged
// item counts as unavailable, as does one that changed owner.
func (s *ExchangeService) availableItem(ctx context.Context, id, ownerID string) (types.Item, error) {
	item, err := s.ledger.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Item{}, ErrItemUnavailable
		}
		return types.Item{}, fmt.Errorf("failed to load item: %w", err)
	}
	if item.Status != types.ItemAvailable || (ownerID != "" && item.UploaderID != ownerID) {
		return types.Item{}, ErrItemUnavailable
	}
	return item, nil
}

func (s *ExchangeService) getRequest(ctx context.Context, id string) (types.SwapRequest, error) {
	req, err := s.ledger.GetSwapRequest(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.SwapRequest{}, ErrRequestNotFound
		}
		return types.SwapRequest{}, fmt.Errorf("failed to load swap request: %w", err)
	}
	return req, nil
}

func (s *ExchangeService) rejected(op string, err error, attrs ...any) error {
	s.log.Debug("exchange rejected", append([]any{"op", op, "reason", err.Error()}, attrs...)...)
	return err
}

func (s *ExchangeService) inconsistent(op string, cause, rollbackErr error, attrs ...any) error {
	s.log.Error("exchange rollback failed",
		append([]any{"op", op, "error", cause, "rollback_error", rollbackErr, "fatal_inconsistency", true}, attrs...)...)
	return &InconsistencyError{Op: op, Err: cause, RollbackErr: rollbackErr}
}

func (s *ExchangeService) publish(ctx context.Context, kind mq.EventType, req types.SwapRequest, itemTitle, actorID string, points int, reason string) {
	if s.events == nil {
		return
	}
	event := mq.ExchangeEvent{
		Type:        kind,
		RequestID:   req.ID,
		ItemID:      req.ItemID,
		ItemTitle:   itemTitle,
		RequesterID: req.RequesterID,
		UploaderID:  req.UploaderID,
		ActorID:     actorID,
		Points:      points,
		Reason:      reason,
		OccurredAt:  s.now().UTC(),
	}
	if err := s.events.PublishExchangeEvent(ctx, event); err != nil {
		s.log.Warn("failed to publish exchange event", "type", kind, "request_id", req.ID, "error", err)
	}
}
