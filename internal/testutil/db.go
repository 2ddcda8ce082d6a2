// Package testutil builds throwaway databases and fixtures for package tests.
package testutil

import (
	"context"
	"testing"

	"evapos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory sqlite database with the full schema.
// A single connection keeps transactions strictly serialized, like the
// row locks do on postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:evapos_" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

// SeedProduct inserts an active product with the given stock.
func SeedProduct(t *testing.T, db *gorm.DB, name string, price string, stock int) *model.Product {
	t.Helper()
	p := &model.Product{
		SKU:    "SKU-" + uuid.NewString()[:8],
		Name:   name,
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Active: true,
	}
	require.NoError(t, db.WithContext(context.Background()).Create(p).Error)
	return p
}

// SeedVariant inserts a variant of p with the given stock.
func SeedVariant(t *testing.T, db *gorm.DB, p *model.Product, name string, stock int) *model.ProductVariant {
	t.Helper()
	v := &model.ProductVariant{
		ProductID: p.ID,
		SKU:       p.SKU + "-" + name,
		Name:      name,
		Stock:     stock,
	}
	require.NoError(t, db.Create(v).Error)
	return v
}

// StockOf reads the current stock of a product.
func StockOf(t *testing.T, db *gorm.DB, productID uuid.UUID) int {
	t.Helper()
	var p model.Product
	require.NoError(t, db.First(&p, "id = ?", productID).Error)
	return p.Stock
}

// Dec parses a decimal literal, failing the test on bad input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
