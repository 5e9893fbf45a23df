package database

import (
	"database/sql"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/midnight-artisan/artisan/config"
	"github.com/midnight-artisan/artisan/internal/cache"
)

// orderCacheTTL bounds how long an order read may be served from the cache.
const orderCacheTTL = 10 * time.Minute

// Datasource is the Postgres-backed store for orders and inventory.
// Cache is optional; a nil cache sends every read to the database.
type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration, c cache.Cache) (IDataSource, error) {
	con, err := ConnectDB(configuration.DataSource.Dns)
	if err != nil {
		return nil, err
	}
	return &Datasource{Conn: con, Cache: c}, nil
}

// ConnectDB opens the Postgres pool and waits for the server to answer, retrying
// with exponential backoff for up to maxWait.
func ConnectDB(dns string) (*sql.DB, error) {
	return connectDB(dns, 30*time.Second)
}

func connectDB(dns string, maxWait time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait
	err = backoff.RetryNotify(db.Ping, b, func(err error, next time.Duration) {
		logrus.WithError(err).Warnf("database not ready, retrying in %s", next)
	})
	if err != nil {
		log.Printf("database Connection error: %v", err)
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
