package model

// All lists every table owned or touched by the ledger, in dependency order.
// The postgres schema lives in SQL migrations; this list feeds AutoMigrate for
// sqlite test databases and the schema drift check.
func All() []any {
	return []any{
		&Product{},
		&ProductVariant{},
		&StockMovement{},
		&CashSession{},
		&CashMovement{},
		&Sale{},
		&SaleItem{},
		&Refund{},
		&RefundItem{},
		&Voucher{},
		&DailyCounter{},
		&FiscalRecord{},
		&FiscalChainState{},
	}
}
