package domain

import "time"

// ProductStatus represents the marketplace status of a catalog row.
// Values include ProductStatusActive, ProductStatusReserved,
// ProductStatusSold, and ProductStatusDeleted.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusReserved ProductStatus = "reserved"
	ProductStatusSold     ProductStatus = "sold"
	ProductStatusDeleted  ProductStatus = "deleted"
)

// Product is the relational system-of-record for a catalog item.
// Rows are created and updated by the external ingester; the sync
// pipeline only reads them and flips the Converted flag. Rows are
// never deleted, only status-flagged.
type Product struct {
	UID        uint          `gorm:"primaryKey;autoIncrement" json:"uid"`
	Provider   string        `gorm:"type:text;not null;index:idx_products_identity,unique" json:"provider"`
	ExternalID string        `gorm:"type:text;not null;index:idx_products_identity,unique" json:"external_id"`
	Title      string        `gorm:"type:text" json:"title"`
	Content    string        `gorm:"type:text" json:"content"`
	Brand      string        `gorm:"type:text" json:"brand"`
	Model      string        `gorm:"type:text" json:"model"`
	Price      int64         `json:"price"`
	Year       int           `json:"year"`
	Odometer   int64         `json:"odometer"`
	Status     ProductStatus `gorm:"type:text;index:idx_products_status;default:active" json:"status"`
	Converted  bool          `gorm:"index:idx_products_converted;default:false" json:"converted"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string {
	return "products"
}

// IsActive reports whether the row should be represented in the
// vector index at all.
func (p *Product) IsActive() bool {
	return p.Status == ProductStatusActive
}

// SourceKey identifies one catalog row version for change-set
// comparison. UpdatedAt carries unix seconds: both stores truncate to
// whole seconds so that sub-second precision drift between Postgres
// timestamps and index payloads cannot produce perpetual updates.
type SourceKey struct {
	Provider   string
	ExternalID string
	UpdatedAt  int64
}

// Identity returns the provider-scoped identity without the version
// timestamp.
func (k SourceKey) Identity() string {
	return k.Provider + ":" + k.ExternalID
}

// SourceKeyOf builds the comparison key for a product row.
func SourceKeyOf(p *Product) SourceKey {
	return SourceKey{
		Provider:   p.Provider,
		ExternalID: p.ExternalID,
		UpdatedAt:  p.UpdatedAt.Truncate(time.Second).Unix(),
	}
}
