package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/LeonardoBeccarini/plantpi/internal/config"
	"github.com/LeonardoBeccarini/plantpi/internal/model"
)

// readingRow is the persisted form of a reading. UnixNano carries the exact
// timestamp; Time is kept for people reading the table by hand.
type readingRow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Stream    string    `gorm:"size:128;not null;index:idx_stream_ts,priority:1"`
	UnixNano  int64     `gorm:"not null;index:idx_stream_ts,priority:2"`
	RowKey    string    `gorm:"size:32;not null"`
	Time      time.Time `gorm:"not null"`
	Fields    string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (readingRow) TableName() string { return "readings" }

// Open connects to the configured database and migrates the readings table.
func Open(cfg config.SQLConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	}

	if err := db.AutoMigrate(&readingRow{}); err != nil {
		return nil, fmt.Errorf("migrate readings: %w", err)
	}
	return db, nil
}

// SQLStore is the durable local log. Rows are inserted and never updated.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Append(ctx context.Context, r model.Reading) error {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	row := readingRow{
		Stream:   r.Stream,
		UnixNano: r.Time.UnixNano(),
		RowKey:   r.RowKey(),
		Time:     r.Time.UTC(),
		Fields:   string(fields),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert reading %s: %w", r.Stream, err)
	}
	return nil
}

func (s *SQLStore) Range(ctx context.Context, stream string, start, end time.Time) ([]model.Reading, error) {
	var rows []readingRow
	err := s.db.WithContext(ctx).
		Where("stream = ? AND unix_nano >= ? AND unix_nano <= ?", stream, start.UnixNano(), end.UnixNano()).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query readings %s: %w", stream, err)
	}
	return rowsToReadings(rows)
}

func (s *SQLStore) Latest(ctx context.Context, stream string) (model.Reading, bool, error) {
	var rows []readingRow
	err := s.db.WithContext(ctx).
		Where("stream = ?", stream).
		Order("unix_nano DESC").Order("id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return model.Reading{}, false, fmt.Errorf("latest reading %s: %w", stream, err)
	}
	if len(rows) == 0 {
		return model.Reading{}, false, nil
	}
	rs, err := rowsToReadings(rows)
	if err != nil {
		return model.Reading{}, false, err
	}
	return rs[0], true, nil
}

func (s *SQLStore) Streams(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&readingRow{}).Distinct("stream").Order("stream").Pluck("stream", &out).Error
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	return out, nil
}

func rowsToReadings(rows []readingRow) ([]model.Reading, error) {
	out := make([]model.Reading, 0, len(rows))
	for _, row := range rows {
		var fields map[string]float64
		if err := json.Unmarshal([]byte(row.Fields), &fields); err != nil {
			return nil, fmt.Errorf("decode fields of row %d: %w", row.ID, err)
		}
		out = append(out, model.Reading{
			Stream: row.Stream,
			Time:   time.Unix(0, row.UnixNano).UTC(),
			Fields: fields,
		})
	}
	return out, nil
}
