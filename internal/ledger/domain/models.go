package domain

import "time"

// Payment is the durable record of one on-chain payment, keyed by its
// transaction hash. It is immutable except for the one-way credited flag.
type Payment struct {
	TxHash     string `gorm:"column:tx_hash;primaryKey"`
	ChainID    int64  `gorm:"column:chain_id;not null"`
	UserID     int64  `gorm:"column:user_id;not null;index"`
	UsageTag   string `gorm:"column:usage_tag;type:text;not null"`
	Amount     string `gorm:"column:amount;type:text;not null"` // smallest unit, decimal string
	Credited   bool   `gorm:"column:credited;not null"`
	CreatedAt  time.Time
	CreditedAt *time.Time
}

func (Payment) TableName() string { return "payments" }

// CreditBalance is the usable credit count for one user. The balance only
// moves through IncrementBalance/DecrementBalance and never goes negative.
type CreditBalance struct {
	UserID    int64 `gorm:"column:user_id;primaryKey"`
	Balance   int64 `gorm:"column:balance;not null"`
	UpdatedAt time.Time
}

func (CreditBalance) TableName() string { return "credit_balances" }
