package database

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Storage defines the lifecycle every store implementation must satisfy
type Storage interface {
	Init() error
	Close() error
	HealthCheck() error

	GetDB() *gorm.DB
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
