package digest

import (
	"context"
	"database/sql"
	"fmt"

	"diariodigest/internal/logger"
	"diariodigest/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

const ledgerSchemaVersion = 1

// DefaultRecipient is used when no recipients are configured.
const DefaultRecipient = "default"

// Ledger records which documents were delivered to which recipient.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if needed) the sqlite ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	return NewLedgerFromDB(db)
}

func NewLedgerFromDB(db *sql.DB) (*Ledger, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	l := &Ledger{db: db}
	if err := l.checkSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) checkSchema() error {
	ver := l.schemaVersion()
	if ver == ledgerSchemaVersion {
		return nil
	}
	if ver != 0 {
		return fmt.Errorf("ledger: no schema upgrade path from version %d", ver)
	}
	stmts := []string{
		`CREATE TABLE delivery (
			id INTEGER PRIMARY KEY,
			recipient TEXT NOT NULL,
			pdf_url TEXT NOT NULL,
			date TEXT NOT NULL,
			edition_id TEXT NOT NULL DEFAULT '',
			delivered TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(recipient, pdf_url))`,
		`CREATE INDEX delivery_date ON delivery(date)`,
		`CREATE TABLE version (ver INTEGER NOT NULL)`,
		fmt.Sprintf(`INSERT INTO version (ver) VALUES (%d)`, ledgerSchemaVersion),
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("ledger schema: %w", err)
		}
	}
	return nil
}

// schemaVersion is 0 when the version table does not exist yet.
func (l *Ledger) schemaVersion() int {
	var v int
	if err := l.db.QueryRow(`SELECT MAX(ver) FROM version`).Scan(&v); err != nil {
		return 0
	}
	return v
}

// Pending returns the documents not yet delivered to recipient, in order.
func (l *Ledger) Pending(ctx context.Context, recipient string, docs []models.AnnotatedDocument) ([]models.AnnotatedDocument, error) {
	stmt, err := l.db.PrepareContext(ctx, `SELECT id FROM delivery WHERE recipient=? AND pdf_url=?`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	out := make([]models.AnnotatedDocument, 0, len(docs))
	for _, d := range docs {
		var id int
		err := stmt.QueryRowContext(ctx, recipient, d.PDFURL).Scan(&id)
		if err == sql.ErrNoRows {
			out = append(out, d)
		} else if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Record marks docs as delivered to recipient. Already recorded pairs are
// left untouched.
func (l *Ledger) Record(ctx context.Context, recipient string, docs []models.AnnotatedDocument) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO delivery (recipient, pdf_url, date, edition_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, recipient, d.PDFURL, d.PublicationDate, d.EditionID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LedgerSink hands each recipient only the documents they have not received
// yet, and records them once the wrapped sink accepted the digest. A digest
// whose documents were all delivered before is not sent again; digests that
// carry no documents at all are always passed through so their note reaches
// the recipient.
type LedgerSink struct {
	Next       Sink
	Ledger     *Ledger
	Recipients []string
}

func (s *LedgerSink) Deliver(ctx context.Context, dg models.Digest) error {
	recipients := s.Recipients
	if len(recipients) == 0 {
		recipients = []string{DefaultRecipient}
	}
	for _, r := range recipients {
		pending, err := s.Ledger.Pending(ctx, r, dg.Documents)
		if err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		if len(dg.Documents) > 0 && len(pending) == 0 {
			logger.Info("digest: already delivered", map[string]interface{}{"recipient": r, "date": dg.Date})
			continue
		}
		out := dg
		out.Recipient = r
		out.Documents = pending
		if err := s.Next.Deliver(ctx, out); err != nil {
			return err
		}
		if err := s.Ledger.Record(ctx, r, pending); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}
	return nil
}
