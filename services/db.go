package services

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockForUpdate takes a SELECT ... FOR UPDATE lock where the dialect
// supports it. SQLite (used in tests) serializes writers at the database
// level, so the clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
