// Package writer applies change sets to a live database inside one
// transaction.
package writer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/diff"
	"github.com/koba/schemasync/internal/generator"
)

// State is the progress of the last write
type State int

const (
	StatePending State = iota
	StateApplying
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApplying:
		return "applying"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// SyncError is returned when a statement fails while applying. The
// transaction has been rolled back.
type SyncError struct {
	Statement string
	Err       error
}

func (e *SyncError) Error() string {
	if e.Statement == "" {
		return fmt.Sprintf("synchronization failed: %v", e.Err)
	}
	return fmt.Sprintf("synchronization failed at %q: %v", e.Statement, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Option configures a Writer
type Option func(*Writer)

// WithDryRun makes Write return the planned statements without executing them
func WithDryRun() Option {
	return func(w *Writer) {
		w.dryRun = true
	}
}

// WithChunkSize sets the number of rows per bulk INSERT
func WithChunkSize(n int) Option {
	return func(w *Writer) {
		w.generator.SetChunkSize(n)
	}
}

// Writer applies change sets through one database handle
type Writer struct {
	db        *sql.DB
	dialect   dialect.Dialect
	generator *generator.Generator
	logger    *logrus.Logger
	dryRun    bool
	state     State
}

// New creates a writer for db using the quoting rules of d
func New(db *sql.DB, d dialect.Dialect, logger *logrus.Logger, opts ...Option) *Writer {
	w := &Writer{
		db:        db,
		dialect:   d,
		generator: generator.New(d),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the state of the last write
func (w *Writer) State() State {
	return w.state
}

// Write applies the change sets in order inside one transaction and returns
// the executed statements. Foreign key checks are disabled on the pinned
// connection around the transaction, since SQLite ignores the pragma inside
// one, and restored to their prior state after. Unsupported changes in any
// change set are rejected before anything is executed.
func (w *Writer) Write(ctx context.Context, changeSets ...*diff.ChangeSet) ([]string, error) {
	w.state = StatePending

	statements, err := w.Plan(changeSets...)
	if err != nil {
		return nil, fmt.Errorf("failed to plan changes: %w", err)
	}

	if w.dryRun {
		planned := make([]string, len(statements))
		for i, s := range statements {
			planned[i] = s.SQL
		}
		return planned, nil
	}

	if len(statements) == 0 {
		w.state = StateCommitted
		return nil, nil
	}

	if !w.dialect.Capabilities().TransactionalDDL && hasDDL(statements) {
		w.logger.WithField("dialect", w.dialect.Name()).
			Warn("DDL statements commit implicitly on this engine and cannot be rolled back")
	}

	conn, err := w.db.Conn(ctx)
	if err != nil {
		return nil, &SyncError{Err: fmt.Errorf("failed to get connection: %w", err)}
	}
	defer conn.Close()

	w.state = StateApplying

	query := w.generator.ForeignKeyChecksQuery()
	var current string
	if err := conn.QueryRowContext(ctx, query).Scan(&current); err != nil {
		w.state = StateRolledBack
		return nil, &SyncError{Statement: query, Err: err}
	}
	// Checks already off stay off afterwards
	enforced := w.generator.ForeignKeyChecksEnabled(current)

	if enforced {
		disable := w.generator.ForeignKeyChecks(false)
		if _, err := conn.ExecContext(ctx, disable); err != nil {
			w.state = StateRolledBack
			return nil, &SyncError{Statement: disable, Err: err}
		}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		if enforced {
			w.restoreForeignKeyChecks(conn)
		}
		w.state = StateRolledBack
		return nil, &SyncError{Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}

	executed := make([]string, 0, len(statements))
	for _, s := range statements {
		w.logger.WithFields(logrus.Fields{
			"class": s.Class,
			"sql":   s.SQL,
		}).Debug("Executing statement")

		if _, err := tx.ExecContext(ctx, s.SQL); err != nil {
			w.rollback(tx, conn, enforced)
			return executed, &SyncError{Statement: s.SQL, Err: err}
		}
		executed = append(executed, s.SQL)
	}

	if err := tx.Commit(); err != nil {
		w.rollback(tx, conn, enforced)
		return executed, &SyncError{Err: fmt.Errorf("failed to commit: %w", err)}
	}
	w.state = StateCommitted

	if enforced {
		enable := w.generator.ForeignKeyChecks(true)
		if _, err := conn.ExecContext(ctx, enable); err != nil {
			return executed, fmt.Errorf("failed to re-enable foreign key checks: %w", err)
		}
	}

	w.logger.WithFields(logrus.Fields{
		"statements": len(executed),
		"dialect":    w.dialect.Name(),
	}).Info("Change set applied")

	return executed, nil
}

// rollback aborts tx and tries to turn foreign key checks back on when they
// were enforced before the write
func (w *Writer) rollback(tx *sql.Tx, conn *sql.Conn, enforced bool) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		w.logger.WithError(err).Error("Failed to roll back transaction")
	}
	if enforced {
		w.restoreForeignKeyChecks(conn)
	}
	w.state = StateRolledBack
}

func (w *Writer) restoreForeignKeyChecks(conn *sql.Conn) {
	// The caller's context may already be done
	if _, err := conn.ExecContext(context.Background(), w.generator.ForeignKeyChecks(true)); err != nil {
		w.logger.WithError(err).Warn("Failed to re-enable foreign key checks")
	}
}

func hasDDL(statements []generator.Statement) bool {
	for _, s := range statements {
		if s.DDL {
			return true
		}
	}
	return false
}

// Plan returns the statements Write would execute for the change sets
func (w *Writer) Plan(changeSets ...*diff.ChangeSet) ([]generator.Statement, error) {
	var statements []generator.Statement
	for _, cs := range changeSets {
		planned, err := w.generator.Plan(cs)
		if err != nil {
			return nil, err
		}
		statements = append(statements, planned...)
	}
	return statements, nil
}
