package model

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Entity gives every table a UUID primary key assigned on the Go side, so the
// same models work against postgres and the sqlite databases used in tests.
type Entity struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
}

func (e *Entity) BeforeCreate(_ *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
