package ormstore

import (
	"time"

	"gorm.io/datatypes"

	"storefront"
)

// EntityModel is the GORM mapping of the entities table. The schema itself
// is owned by the goose migrations, not by AutoMigrate.
type EntityModel struct {
	ID        string         `gorm:"primaryKey;size:64"`
	Kind      string         `gorm:"not null;size:64;uniqueIndex:uq_entities_kind_slug,priority:1;uniqueIndex:uq_entities_kind_unique_key,priority:1"`
	Slug      *string        `gorm:"size:255;uniqueIndex:uq_entities_kind_slug,priority:2"`
	UniqueKey *string        `gorm:"size:512;uniqueIndex:uq_entities_kind_unique_key,priority:2"`
	Fields    datatypes.JSON `gorm:"not null"`
	Version   int64          `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the table name for GORM
func (EntityModel) TableName() string {
	return "entities"
}

func toModel(ent storefront.Entity, fields []byte) EntityModel {
	return EntityModel{
		ID:        ent.ID,
		Kind:      string(ent.Kind),
		Slug:      optional(ent.Slug),
		UniqueKey: optional(ent.UniqueKey),
		Fields:    datatypes.JSON(fields),
		Version:   ent.Version,
		CreatedAt: ent.CreatedAt,
		UpdatedAt: ent.UpdatedAt,
	}
}

func (m EntityModel) entity() (storefront.Entity, error) {
	fields, err := storefront.DecodeFields(m.Fields)
	if err != nil {
		return storefront.Entity{}, err
	}
	return storefront.Entity{
		ID:        m.ID,
		Kind:      storefront.Kind(m.Kind),
		Slug:      deref(m.Slug),
		UniqueKey: deref(m.UniqueKey),
		Fields:    fields,
		Version:   m.Version,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
