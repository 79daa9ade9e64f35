// SPDX-License-Identifier: GPL-3.0-or-later

// Package persistence is the sqlite backend for the sequence counter and
// the import journal. It is optional: without a configured database the
// counter lives in plain files and no journal is written.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmsbridge/go-mail-dms/domain"
	"github.com/dmsbridge/go-mail-dms/log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "1-counters",
			Up: []string{`
				CREATE TABLE counters (
					clientid TEXT PRIMARY KEY,
					value INTEGER NOT NULL
				)`,
			},
			Down: []string{`DROP TABLE counters`},
		},
		{
			Id: "2-journal",
			Up: []string{`
				CREATE TABLE journal (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					mailid INTEGER NOT NULL,
					subject TEXT NOT NULL,
					outcome TEXT NOT NULL,
					externalid TEXT NOT NULL,
					detail TEXT NOT NULL,
					recorded TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX journal_outcome ON journal (outcome)`,
			},
			Down: []string{`DROP TABLE journal`},
		},
	},
}

type Persistence struct {
	db *sqlx.DB
	l  *logrus.Logger
}

func NewPersistence(datasource string) (*Persistence, error) {
	db, err := sqlx.Connect("sqlite3", datasource)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := log.Logger(log.LOG_PERSISTENCE)
	l.WithField("file", datasource).Info("Connected")

	_, err = db.Exec(`PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("could not set journal mode: %w", err)
	}
	_, err = db.Exec(`PRAGMA synchronous=normal`)
	if err != nil {
		return nil, fmt.Errorf("could not set synchronous mode: %w", err)
	}

	appliedMigrations, err := migrate.Exec(db.DB, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return nil, fmt.Errorf("could not migrate to newest version: %w", err)
	}

	l.WithField("migrations", appliedMigrations).Debug("Executed migrations")

	return &Persistence{
		db: db,
		l:  l,
	}, nil
}

func (p *Persistence) Close() error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	p.l.Info("Disconnected")
	return nil
}

// Reserve reads the persisted counter value for clientID and returns the
// next value without writing anything.
func (p *Persistence) Reserve(clientID string) (int64, error) {
	var current int64
	err := p.db.Get(
		&current,
		`SELECT value FROM counters WHERE clientid = ?`,
		clientID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not query counter: %w", err)
	}

	return current + 1, nil
}

// Commit persists value as the current counter state for clientID.
func (p *Persistence) Commit(clientID string, value int64) error {
	_, err := p.db.Exec(
		`INSERT OR REPLACE INTO counters (clientid, value) VALUES (?, ?)`,
		clientID,
		value,
	)
	if err != nil {
		return fmt.Errorf("could not save counter: %w", err)
	}

	p.l.WithFields(logrus.Fields{"client": clientID, "value": value}).Debug("Committed sequence value")
	return nil
}

func (p *Persistence) Record(entry *domain.JournalEntry) error {
	_, err := p.db.Exec(
		`INSERT INTO journal (mailid, subject, outcome, externalid, detail) VALUES (?, ?, ?, ?, ?)`,
		entry.MailID,
		entry.Subject,
		entry.Outcome,
		entry.ExternalID,
		entry.Detail,
	)
	if err != nil {
		return fmt.Errorf("could not record journal entry: %w", err)
	}

	return nil
}

func (p *Persistence) OutcomeCounts() (map[string]int, error) {
	rows := []struct {
		Outcome string
		Count   int
	}{}

	err := p.db.Select(
		&rows,
		`SELECT outcome, COUNT(*) AS count FROM journal GROUP BY outcome`,
	)
	if err != nil {
		return nil, fmt.Errorf("could not query journal: %w", err)
	}

	counts := map[string]int{}
	for _, row := range rows {
		counts[row.Outcome] = row.Count
	}

	return counts, nil
}
