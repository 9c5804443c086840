package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/management/server/telemetry"
	"github.com/kivyx/ota/management/server/types"
)

// Store keeps the release table and the telemetry events of the decision service
type Store interface {
	// GetReleases returns the releases of one channel, newest version code first.
	// A limit of zero or less returns every release.
	GetReleases(ctx context.Context, app, platform, channel string, limit int) ([]*types.Release, error)
	GetRelease(ctx context.Context, key types.ReleaseKey) (*types.Release, error)
	// SaveRelease inserts the release or replaces the row with the same key
	SaveRelease(ctx context.Context, release *types.Release) error
	// UpdateRollout writes the rollout column of a single row and reports whether the row exists
	UpdateRollout(ctx context.Context, key types.ReleaseKey, rollout float64) (bool, error)

	SaveTelemetryEvent(ctx context.Context, event *types.TelemetryEvent) error
	// CountEvents returns the number of events of eventType and the number of all events
	// recorded for a release at or after since
	CountEvents(ctx context.Context, key types.ReleaseKey, eventType string, since time.Time) (int64, int64, error)

	// Close should close the store persisting all unsaved data.
	Close(ctx context.Context) error
}

type Engine string

const (
	SqliteStoreEngine   Engine = "sqlite"
	PostgresStoreEngine Engine = "postgres"
	MysqlStoreEngine    Engine = "mysql"

	postgresDsnEnv = "OTA_STORE_ENGINE_POSTGRES_DSN"
	mysqlDsnEnv    = "OTA_STORE_ENGINE_MYSQL_DSN"
)

func getStoreEngineFromEnv() Engine {
	// OTA_STORE_ENGINE supposed to be used in tests. Otherwise, rely on the config file.
	kind, ok := os.LookupEnv("OTA_STORE_ENGINE")
	if !ok {
		return ""
	}

	value := Engine(strings.ToLower(kind))
	if value == SqliteStoreEngine || value == PostgresStoreEngine || value == MysqlStoreEngine {
		return value
	}

	return SqliteStoreEngine
}

// getStoreEngine determines the store engine to use.
// If no engine is specified, it attempts to retrieve it from the environment.
// If still not specified, it defaults to using SQLite.
func getStoreEngine(kind Engine) Engine {
	if kind == "" {
		kind = getStoreEngineFromEnv()
		if kind == "" {
			kind = SqliteStoreEngine
		}
	}
	return kind
}

// NewStore creates a new store based on the provided engine type, data directory, and telemetry metrics
func NewStore(ctx context.Context, kind Engine, dataDir string, metrics telemetry.AppMetrics) (Store, error) {
	kind = getStoreEngine(kind)

	switch kind {
	case SqliteStoreEngine:
		log.WithContext(ctx).Info("using SQLite store engine")
		return NewSqliteStore(ctx, dataDir, metrics)
	case PostgresStoreEngine:
		log.WithContext(ctx).Info("using Postgres store engine")
		return newPostgresStore(ctx, metrics)
	case MysqlStoreEngine:
		log.WithContext(ctx).Info("using MySQL store engine")
		return newMysqlStore(ctx, metrics)
	default:
		return nil, fmt.Errorf("unsupported kind of store: %s", kind)
	}
}

func newPostgresStore(ctx context.Context, metrics telemetry.AppMetrics) (Store, error) {
	dsn, ok := os.LookupEnv(postgresDsnEnv)
	if !ok || dsn == "" {
		return nil, fmt.Errorf("%s is not set", postgresDsnEnv)
	}
	return NewPostgresqlStore(ctx, dsn, metrics)
}

func newMysqlStore(ctx context.Context, metrics telemetry.AppMetrics) (Store, error) {
	dsn, ok := os.LookupEnv(mysqlDsnEnv)
	if !ok || dsn == "" {
		return nil, fmt.Errorf("%s is not set", mysqlDsnEnv)
	}
	return NewMysqlStore(ctx, dsn, metrics)
}
