package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultWriteTimeout = 5 * time.Second

// tradeRow is the trade_events table.
type tradeRow struct {
	ID                   string    `gorm:"primaryKey;size:36"`
	Action               string    `gorm:"size:8;not null"`
	Side                 string    `gorm:"size:8;not null"`
	Symbol               string    `gorm:"size:32;index;not null"`
	Size                 float64   `gorm:"not null"`
	CashEntryPrice       float64
	DerivativeEntryPrice float64
	CashExitPrice        float64
	DerivativeExitPrice  float64
	CashPnL              float64
	DerivativePnL        float64
	Fee                  float64
	NetPnL               float64
	ExpectedProfit       float64
	ExpectedCost         float64
	EntryTime            time.Time `gorm:"index"`
	ExitTime             *time.Time
	HoldingMinutes       float64
	Reason               string `gorm:"size:128"`
	CreatedAt            time.Time
}

func (tradeRow) TableName() string { return "trade_events" }

func toRow(ev Event) tradeRow {
	row := tradeRow{
		ID:                   ev.ID,
		Action:               string(ev.Action),
		Side:                 string(ev.Side),
		Symbol:               ev.Symbol,
		Size:                 ev.Size,
		CashEntryPrice:       ev.CashEntryPrice,
		DerivativeEntryPrice: ev.DerivativeEntryPrice,
		CashExitPrice:        ev.CashExitPrice,
		DerivativeExitPrice:  ev.DerivativeExitPrice,
		CashPnL:              ev.CashPnL,
		DerivativePnL:        ev.DerivativePnL,
		Fee:                  ev.Fee,
		NetPnL:               ev.NetPnL,
		ExpectedProfit:       ev.ExpectedProfit,
		ExpectedCost:         ev.ExpectedCost,
		EntryTime:            ev.EntryTime,
		HoldingMinutes:       ev.HoldingMinutes,
		Reason:               ev.Reason,
	}
	if !ev.ExitTime.IsZero() {
		exit := ev.ExitTime
		row.ExitTime = &exit
	}
	return row
}

// PostgresSink inserts every event into trade_events.
type PostgresSink struct {
	db      *gorm.DB
	timeout time.Duration
	log     zerolog.Logger
}

// NewPostgresSink connects and migrates the trade_events table.
func NewPostgresSink(dsn string, log zerolog.Logger) (*PostgresSink, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&tradeRow{}); err != nil {
		return nil, fmt.Errorf("migrate trade_events: %w", err)
	}
	return &PostgresSink{db: db, timeout: defaultWriteTimeout, log: log}, nil
}

// Record inserts ev, logging failures; the trading loop never waits on an acknowledgement beyond the write timeout.
func (s *PostgresSink) Record(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	row := toRow(ev)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.log.Error().Err(err).Str("id", ev.ID).Str("sym", ev.Symbol).Msg("postgres journal insert failed")
	}
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
