// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package status

import (
	"database/sql"
	"fmt"

	"github.com/ffutop/modbus-poller/internal/master"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

// SQLStore keeps one row per packet in the `packet_status` table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore connects to the database and creates the table if needed.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS packet_status (
		idx INTEGER PRIMARY KEY,
		name TEXT,
		slave_id INTEGER,
		function INTEGER,
		address INTEGER,
		count INTEGER,
		requests INTEGER,
		successful_requests INTEGER,
		failed_requests INTEGER,
		exception_errors INTEGER,
		retries INTEGER,
		connection INTEGER,
		last_exception INTEGER
	);
	`
	_, err := s.db.Exec(query)
	return err
}

const upsertQuery = `INSERT INTO packet_status
	(idx, name, slave_id, function, address, count, requests, successful_requests,
	 failed_requests, exception_errors, retries, connection, last_exception)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(idx) DO UPDATE SET
	name=excluded.name, slave_id=excluded.slave_id, function=excluded.function,
	address=excluded.address, count=excluded.count, requests=excluded.requests,
	successful_requests=excluded.successful_requests, failed_requests=excluded.failed_requests,
	exception_errors=excluded.exception_errors, retries=excluded.retries,
	connection=excluded.connection, last_exception=excluded.last_exception`

// Publish upserts every packet in one transaction and drops rows of
// packets no longer in the table.
func (s *SQLStore) Publish(snapshots []master.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, p := range snapshots {
		_, err := stmt.Exec(i, p.Name, p.SlaveID, p.Function, p.Address, p.Count,
			p.Requests, p.SuccessfulRequests, p.FailedRequests, p.ExceptionErrors, p.Retries,
			p.Connection, p.LastException)
		if err != nil {
			return fmt.Errorf("failed to persist packet %d: %w", i, err)
		}
	}
	if _, err := tx.Exec("DELETE FROM packet_status WHERE idx >= ?", len(snapshots)); err != nil {
		return err
	}
	return tx.Commit()
}

// Load reads the table back, ordered by packet index.
func (s *SQLStore) Load() ([]master.Snapshot, error) {
	rows, err := s.db.Query(`SELECT name, slave_id, function, address, count, requests,
		successful_requests, failed_requests, exception_errors, retries, connection, last_exception
		FROM packet_status ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("failed to query packet status: %w", err)
	}
	defer rows.Close()

	var out []master.Snapshot
	for rows.Next() {
		var p master.Snapshot
		err := rows.Scan(&p.Name, &p.SlaveID, &p.Function, &p.Address, &p.Count, &p.Requests,
			&p.SuccessfulRequests, &p.FailedRequests, &p.ExceptionErrors, &p.Retries,
			&p.Connection, &p.LastException)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
