package domain

import "time"

// SKU is one extracted product record.
//
// The ID is deterministic: {file_hash[:8]}_{page:03d}_{seq:03d}, where seq
// follows a geometric sort (y first, then x, normalized by page height).
// Validity is strictly binary; a revision bump marks cross-page correction.
type SKU struct {
	ID         string `gorm:"type:text;primaryKey" json:"id"`
	JobID      string `gorm:"type:text;not null;index:idx_skus_job" json:"job_id"`
	PageNumber int    `gorm:"not null;index:idx_skus_page" json:"page_number"`
	Seq        int    `gorm:"default:0" json:"seq"`

	ProductName string  `gorm:"type:text" json:"product_name"`
	ModelNumber string  `gorm:"type:text" json:"model_number,omitempty"`
	Price       string  `gorm:"type:text" json:"price,omitempty"`
	Unit        string  `gorm:"type:text" json:"unit,omitempty"`
	Attributes  JSONMap `gorm:"type:text" json:"attributes,omitempty"`

	Status     SKUStatus       `gorm:"type:text;index:idx_skus_status;default:EXTRACTED" json:"status"`
	Validity   SKUValidity     `gorm:"type:text;default:invalid" json:"validity"`
	Confidence float64         `gorm:"default:0" json:"confidence"`
	AttrSource AttributeSource `gorm:"type:text;default:AI_EXTRACTED" json:"attr_source"`
	Revision   int             `gorm:"default:1" json:"revision"`

	// Geometry on the page, normalized by page height.
	X float64 `gorm:"default:0" json:"x"`
	Y float64 `gorm:"default:0" json:"y"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for SKU.
func (SKU) TableName() string {
	return "skus"
}

// PageImage is one image extracted from a page, with triage metadata.
type PageImage struct {
	ID         string `gorm:"type:text;primaryKey" json:"id"`
	JobID      string `gorm:"type:text;not null;index:idx_images_job" json:"job_id"`
	PageNumber int    `gorm:"not null" json:"page_number"`

	StorageKey string `gorm:"type:text" json:"storage_key"`
	Format     string `gorm:"type:text" json:"format,omitempty"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	PrefixHash string `gorm:"type:text;index:idx_images_hash" json:"prefix_hash"`

	Role    ImageRole    `gorm:"type:text" json:"role,omitempty"`
	Quality QualityGrade `gorm:"type:text;default:UNASSESSED" json:"quality"`

	// Center coordinates on the page, in px.
	CenterX float64 `gorm:"default:0" json:"center_x"`
	CenterY float64 `gorm:"default:0" json:"center_y"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for PageImage.
func (PageImage) TableName() string {
	return "page_images"
}

// Binding links a SKU to an image. Ambiguous matches are never persisted
// with an image: ImageID stays empty and candidates are surfaced instead.
type Binding struct {
	ID    string `gorm:"type:text;primaryKey" json:"id"`
	JobID string `gorm:"type:text;not null;index:idx_bindings_job" json:"job_id"`
	SKUID string `gorm:"type:text;not null;index:idx_bindings_sku" json:"sku_id"`

	ImageID     string        `gorm:"type:text" json:"image_id,omitempty"`
	Method      BindingMethod `gorm:"type:text" json:"method"`
	Confidence  float64       `gorm:"default:0" json:"confidence"`
	IsAmbiguous bool          `gorm:"default:false" json:"is_ambiguous"`
	Candidates  StringArray   `gorm:"type:text" json:"candidates,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Binding.
func (Binding) TableName() string {
	return "bindings"
}
