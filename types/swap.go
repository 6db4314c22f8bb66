package types

import "time"

// SwapType distinguishes direct swaps from points redemptions.
type SwapType string

const (
	SwapTypeSwap   SwapType = "swap"
	SwapTypePoints SwapType = "points"
)

// SwapStatus is the lifecycle state of a SwapRequest.
type SwapStatus string

const (
	SwapPending   SwapStatus = "pending"
	SwapAccepted  SwapStatus = "accepted"
	SwapCompleted SwapStatus = "completed"
	SwapDeclined  SwapStatus = "declined"
)

// Valid reports whether s is a known swap status.
func (s SwapStatus) Valid() bool {
	switch s {
	case SwapPending, SwapAccepted, SwapCompleted, SwapDeclined:
		return true
	}
	return false
}

// SwapRequest records a proposed or completed exchange.
// Requests are never deleted; together they form the audit trail of
// exchange activity.
type SwapRequest struct {
	ID string `json:"id" db:"id"`

	// ItemID is the item being asked for.
	ItemID string `json:"item_id" db:"item_id"`

	RequesterID string `json:"requester_id" db:"requester_id"`

	// UploaderID is the owner of ItemID at request time.
	UploaderID string `json:"uploader_id" db:"uploader_id"`

	// RequesterItemID is the item offered in return, for direct swaps.
	RequesterItemID string `json:"requester_item_id,omitempty" db:"requester_item_id"`

	Type    SwapType   `json:"type" db:"type"`
	Status  SwapStatus `json:"status" db:"status"`
	Message string     `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// References reports whether the request targets or offers itemID.
func (r SwapRequest) References(itemID string) bool {
	return r.ItemID == itemID || (r.RequesterItemID != "" && r.RequesterItemID == itemID)
}
