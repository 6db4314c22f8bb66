package types

import "time"

// Category is the audience a garment is listed for.
type Category string

const (
	CategoryMen    Category = "Men"
	CategoryWomen  Category = "Women"
	CategoryUnisex Category = "Unisex"
	CategoryKids   Category = "Kids"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryMen, CategoryWomen, CategoryUnisex, CategoryKids:
		return true
	}
	return false
}

// Condition describes the wear of a garment.
type Condition string

const (
	ConditionExcellent Condition = "Excellent"
	ConditionGood      Condition = "Good"
	ConditionFair      Condition = "Fair"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair:
		return true
	}
	return false
}

// ItemStatus is the position of an item in its exchange lifecycle.
//
// The only forward transitions are available -> swapped and
// available -> redeemed. Both targets are terminal.
type ItemStatus string

const (
	ItemAvailable ItemStatus = "available"
	ItemPending   ItemStatus = "pending"
	ItemSwapped   ItemStatus = "swapped"
	ItemRedeemed  ItemStatus = "redeemed"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemAvailable, ItemPending, ItemSwapped, ItemRedeemed:
		return true
	}
	return false
}

// Terminal reports whether no ordinary transition leaves s.
func (s ItemStatus) Terminal() bool {
	return s == ItemSwapped || s == ItemRedeemed
}

// Listing limits.
const (
	MinPointValue = 10
	MaxPointValue = 200
	MaxItemImages = 5
)

// Item represents a garment listed on the exchange.
type Item struct {
	// ID is the unique identifier of the item.
	ID string `json:"id" db:"id"`

	// Title is the short name shown in the catalog.
	Title string `json:"title" db:"title"`

	// Description is the free-form listing text.
	Description string `json:"description" db:"description"`

	// Images is the ordered list of image references (object URLs).
	Images []string `json:"images" db:"images"`

	Category  Category  `json:"category" db:"category"`
	Size      string    `json:"size" db:"size"`
	Condition Condition `json:"condition" db:"condition"`

	// Tags are free-form labels used for search.
	Tags []string `json:"tags" db:"tags"`

	Status ItemStatus `json:"status" db:"status"`

	// UploaderID is the owning user until an exchange completes.
	UploaderID string `json:"uploader_id" db:"uploader_id"`

	// UploaderName is denormalized from the uploader at listing time.
	UploaderName string `json:"uploader_name" db:"uploader_name"`

	// PointValue is the redemption price, between MinPointValue and MaxPointValue.
	PointValue int `json:"point_value" db:"point_value"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ItemFilter narrows catalog listings. Zero values match everything.
type ItemFilter struct {
	Category   Category
	Size       string
	Status     ItemStatus
	UploaderID string
	// Query matches title, description or any tag, case-insensitively.
	Query string
}
