package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/kivyx/ota/management/server/telemetry"
	"github.com/kivyx/ota/management/server/types"
	"github.com/kivyx/ota/shared/management/status"
)

const (
	storeSqliteFileName = "store.db"

	releaseKeyQueryCondition = "app = ? AND platform = ? AND channel = ? AND version_code = ?"
)

// SqlStore represents a release and telemetry storage backed by a Sql DB
type SqlStore struct {
	db      *gorm.DB
	metrics telemetry.AppMetrics
}

// NewSqlStore creates a new SqlStore instance.
func NewSqlStore(ctx context.Context, db *gorm.DB, storeEngine Engine, metrics telemetry.AppMetrics) (*SqlStore, error) {
	sql, err := db.DB()
	if err != nil {
		return nil, err
	}

	conns := runtime.NumCPU()
	if storeEngine == SqliteStoreEngine {
		conns = 1
	}
	sql.SetMaxOpenConns(conns)
	log.WithContext(ctx).Infof("Set max open db connections to %d", conns)

	err = db.AutoMigrate(&types.Release{}, &types.TelemetryEvent{})
	if err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &SqlStore{db: db, metrics: metrics}, nil
}

func (s *SqlStore) countQuery(operation string, start time.Time) {
	if s.metrics != nil && s.metrics.StoreMetrics() != nil {
		s.metrics.StoreMetrics().CountQueryDuration(operation, time.Since(start))
	}
}

func (s *SqlStore) countPersistence(start time.Time) {
	if s.metrics != nil && s.metrics.StoreMetrics() != nil {
		s.metrics.StoreMetrics().CountPersistenceDuration(time.Since(start))
	}
}

// GetReleases returns the releases of a channel ordered by version code descending
func (s *SqlStore) GetReleases(ctx context.Context, app, platform, channel string, limit int) ([]*types.Release, error) {
	defer s.countQuery("get_releases", time.Now())

	query := s.db.WithContext(ctx).
		Where("app = ? AND platform = ? AND channel = ?", app, platform, channel).
		Order("version_code DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var releases []*types.Release
	if err := query.Find(&releases).Error; err != nil {
		log.WithContext(ctx).Errorf("failed to get releases from the store: %s", err)
		return nil, status.Errorf(status.Internal, "failed to get releases from store")
	}
	return releases, nil
}

// GetRelease returns a single release row
func (s *SqlStore) GetRelease(ctx context.Context, key types.ReleaseKey) (*types.Release, error) {
	defer s.countQuery("get_release", time.Now())

	var release types.Release
	result := s.db.WithContext(ctx).
		Where(releaseKeyQueryCondition, key.App, key.Platform, key.Channel, key.VersionCode).
		First(&release)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, status.NewReleaseNotFoundError(key.App, key.Platform, key.Channel, key.VersionCode)
		}
		log.WithContext(ctx).Errorf("failed to get release from the store: %s", result.Error)
		return nil, status.Errorf(status.Internal, "failed to get release from store")
	}
	return &release, nil
}

// SaveRelease upserts a release. CreatedAt of an existing row is kept.
func (s *SqlStore) SaveRelease(ctx context.Context, release *types.Release) error {
	defer s.countPersistence(time.Now())

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "app"}, {Name: "platform"}, {Name: "channel"}, {Name: "version_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"version", "binary_version", "runtime_version", "rollout", "mandatory", "targeting", "manifest_url", "updated_at",
		}),
	}).Create(release)
	if result.Error != nil {
		log.WithContext(ctx).Errorf("failed to save release to the store: %s", result.Error)
		return status.Errorf(status.Internal, "failed to save release to store")
	}
	return nil
}

// UpdateRollout writes only the rollout column. No matching row is not an error.
func (s *SqlStore) UpdateRollout(ctx context.Context, key types.ReleaseKey, rollout float64) (bool, error) {
	defer s.countPersistence(time.Now())

	result := s.db.WithContext(ctx).Model(&types.Release{}).
		Where(releaseKeyQueryCondition, key.App, key.Platform, key.Channel, key.VersionCode).
		Update("rollout", rollout)
	if result.Error != nil {
		log.WithContext(ctx).Errorf("failed to update rollout in the store: %s", result.Error)
		return false, status.Errorf(status.Internal, "failed to update rollout in store")
	}
	return result.RowsAffected > 0, nil
}

// SaveTelemetryEvent appends an event. The timestamp is stored in UTC with second precision
// so that range queries compare consistently on every engine.
func (s *SqlStore) SaveTelemetryEvent(ctx context.Context, event *types.TelemetryEvent) error {
	defer s.countPersistence(time.Now())

	event.Timestamp = event.Timestamp.UTC().Truncate(time.Second)

	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		log.WithContext(ctx).Errorf("failed to save telemetry event to the store: %s", err)
		return status.Errorf(status.Internal, "failed to save telemetry event to store")
	}
	return nil
}

// CountEvents returns the matching and the total event count for a release since the given time
func (s *SqlStore) CountEvents(ctx context.Context, key types.ReleaseKey, eventType string, since time.Time) (int64, int64, error) {
	defer s.countQuery("count_events", time.Now())

	since = since.UTC().Truncate(time.Second)
	eventsQuery := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&types.TelemetryEvent{}).
			Where(releaseKeyQueryCondition, key.App, key.Platform, key.Channel, key.VersionCode).
			Where("timestamp >= ?", since)
	}

	var total int64
	if err := eventsQuery().Count(&total).Error; err != nil {
		return 0, 0, status.Errorf(status.Internal, "failed to count telemetry events: %w", err)
	}
	if total == 0 {
		return 0, 0, nil
	}

	var matching int64
	if err := eventsQuery().Where("event_type = ?", eventType).Count(&matching).Error; err != nil {
		return 0, 0, status.Errorf(status.Internal, "failed to count telemetry events: %w", err)
	}
	return matching, total, nil
}

// Close closes the underlying DB connection
func (s *SqlStore) Close(_ context.Context) error {
	sql, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get db: %w", err)
	}
	return sql.Close()
}

func getGormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:          logger.Default.LogMode(logger.Silent),
		CreateBatchSize: 400,
		PrepareStmt:     true,
	}
}

// NewSqliteStore creates a new SQLite store.
func NewSqliteStore(ctx context.Context, dataDir string, metrics telemetry.AppMetrics) (*SqlStore, error) {
	storeStr := fmt.Sprintf("%s?cache=shared", storeSqliteFileName)
	if runtime.GOOS == "windows" {
		// Vo avoid `The process cannot access the file because it is being used by another process` on Windows
		storeStr = storeSqliteFileName
	}

	file := filepath.Join(dataDir, storeStr)
	db, err := gorm.Open(sqlite.Open(file), getGormConfig())
	if err != nil {
		return nil, err
	}

	return NewSqlStore(ctx, db, SqliteStoreEngine, metrics)
}

// NewPostgresqlStore creates a new Postgres store.
func NewPostgresqlStore(ctx context.Context, dsn string, metrics telemetry.AppMetrics) (*SqlStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), getGormConfig())
	if err != nil {
		return nil, err
	}

	return NewSqlStore(ctx, db, PostgresStoreEngine, metrics)
}

// NewMysqlStore creates a new MySQL store.
func NewMysqlStore(ctx context.Context, dsn string, metrics telemetry.AppMetrics) (*SqlStore, error) {
	db, err := gorm.Open(mysql.Open(dsn+"?charset=utf8&parseTime=True&loc=Local"), getGormConfig())
	if err != nil {
		return nil, err
	}

	return NewSqlStore(ctx, db, MysqlStoreEngine, metrics)
}
