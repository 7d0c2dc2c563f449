package tasklog

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// logLine is the GORM model backing SQLiteSink: one row per appended line,
// so Read can page with a plain indexed WHERE rather than re-splitting a
// blob column on every call.
type logLine struct {
	ID       uint `gorm:"primarykey"`
	LogID    int64 `gorm:"index:idx_log_line,priority:1"`
	LineNum  int   `gorm:"index:idx_log_line,priority:2"`
	Line     string
	CreatedAt time.Time `gorm:"index"`
}

type logStatus struct {
	LogID int64 `gorm:"primarykey"`
	Done  bool
}

// SQLiteSink stores logs in a local SQLite database via GORM, auto-migrating
// its two tables on construction. Expire runs a single DELETE WHERE
// created_at < cutoff sweep, invoked by the runner's hourly expiry loop.
type SQLiteSink struct {
	db        *gorm.DB
	retain    time.Duration
	tailLines int
}

// NewSQLiteSink opens (creating if necessary) the SQLite file at path.
// tailLines caps how many lines a single Read call returns (0 falls back to
// defaultTailLines).
func NewSQLiteSink(path string, retain time.Duration, tailLines int) (*SQLiteSink, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("tasklog: open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&logLine{}, &logStatus{}); err != nil {
		return nil, fmt.Errorf("tasklog: automigrate: %w", err)
	}
	if tailLines <= 0 {
		tailLines = defaultTailLines
	}
	return &SQLiteSink{db: db, retain: retain, tailLines: tailLines}, nil
}

func (s *SQLiteSink) WriteLog(ctx context.Context, logID int64, line string) error {
	var maxNum int
	if err := s.db.WithContext(ctx).Model(&logLine{}).
		Where("log_id = ?", logID).
		Select("COALESCE(MAX(line_num), 0)").Scan(&maxNum).Error; err != nil {
		return fmt.Errorf("tasklog: sqlite max line_num %d: %w", logID, err)
	}
	row := logLine{LogID: logID, LineNum: maxNum + 1, Line: line, CreatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("tasklog: sqlite insert %d: %w", logID, err)
	}
	return nil
}

// Read returns up to s.tailLines consecutive lines starting at fromLineNum
// (1-based). isEnd reports whether the returned page reaches the stored row
// count for logID, not whether MarkDone has been called.
func (s *SQLiteSink) Read(ctx context.Context, logID int64, fromLineNum int) ([]string, bool, error) {
	if fromLineNum < 1 {
		fromLineNum = 1
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&logLine{}).Where("log_id = ?", logID).Count(&total).Error; err != nil {
		return nil, false, fmt.Errorf("tasklog: sqlite count %d: %w", logID, err)
	}
	if total == 0 {
		return nil, false, ErrLogNotFound
	}
	if int64(fromLineNum) > total {
		return nil, true, nil
	}
	toLine := int64(fromLineNum) + int64(s.tailLines) - 1
	if toLine > total {
		toLine = total
	}

	var rows []logLine
	if err := s.db.WithContext(ctx).
		Where("log_id = ? AND line_num >= ? AND line_num <= ?", logID, fromLineNum, toLine).
		Order("line_num asc").Find(&rows).Error; err != nil {
		return nil, false, fmt.Errorf("tasklog: sqlite select %d: %w", logID, err)
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, r.Line)
	}

	isEnd := toLine >= total
	return lines, isEnd, nil
}

func (s *SQLiteSink) MarkDone(ctx context.Context, logID int64) error {
	status := logStatus{LogID: logID, Done: true}
	return s.db.WithContext(ctx).Save(&status).Error
}

func (s *SQLiteSink) Expire(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.retain)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&logLine{})
	if res.Error != nil {
		return 0, fmt.Errorf("tasklog: sqlite expire: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *SQLiteSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
