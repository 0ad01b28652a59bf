package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"
)

// MySQLBackend coordinates through MySQL advisory locks. Every connection is a
// dedicated *sql.Conn because GET_LOCK ownership is tied to the session.
type MySQLBackend struct {
	db *sql.DB
}

// NewMySQLBackend constructs a MySQL-based advisory lock backend.
func NewMySQLBackend(db *sql.DB) *MySQLBackend {
	return &MySQLBackend{db: db}
}

// Open pins a connection from the pool.
func (b *MySQLBackend) Open(ctx context.Context) (Conn, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &mysqlConn{conn: conn}, nil
}

type mysqlConn struct {
	conn *sql.Conn
	// held is set while this session may still own a lock.
	held bool
}

// Acquire runs GET_LOCK with the timeout in whole seconds. The session counts
// as holding from the moment the query is sent: a failed read may follow a
// grant, and only a clean 0 proves the server did not grant it.
func (c *mysqlConn) Acquire(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	wasHeld := c.held
	c.held = true

	var acquired sql.NullInt64
	if err := c.conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, timeoutSeconds(timeout)).Scan(&acquired); err != nil {
		return false, err
	}
	if !acquired.Valid {
		return false, fmt.Errorf("GET_LOCK(%s) returned NULL", name)
	}
	if acquired.Int64 != 1 {
		c.held = wasHeld
		return false, nil
	}
	return true, nil
}

// Release runs RELEASE_LOCK. A NULL result means the lock did not exist.
func (c *mysqlConn) Release(ctx context.Context, name string) (bool, error) {
	var released sql.NullInt64
	if err := c.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", name).Scan(&released); err != nil {
		return false, err
	}
	c.held = false
	return released.Valid && released.Int64 == 1, nil
}

// Close returns the connection to the pool. A session that may still own a lock
// is discarded instead, so the server drops its locks with it.
func (c *mysqlConn) Close() error {
	if c.held {
		err := c.conn.Raw(func(any) error { return driver.ErrBadConn })
		if errors.Is(err, driver.ErrBadConn) {
			return nil
		}
		return err
	}
	return c.conn.Close()
}
