// Package synchronizer drives one read, diff and apply cycle between a live
// database and its vault.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/koba/schemasync/internal/database"
	"github.com/koba/schemasync/internal/diff"
	"github.com/koba/schemasync/internal/generator"
	"github.com/koba/schemasync/internal/lock"
	"github.com/koba/schemasync/internal/schema"
	"github.com/koba/schemasync/internal/vault"
	"github.com/koba/schemasync/internal/writer"
)

// ErrNoCapture is returned by Sync when the vault was never written. An
// empty target would drop every table.
var ErrNoCapture = errors.New("vault has no captured schema")

// Options configures a Session
type Options struct {
	// InfoTables is the pattern of tables whose rows are synchronized
	InfoTables  string
	LockTimeout time.Duration
	ChunkSize   int
	DryRun      bool
}

// Session owns the connection, vault and lock of one synchronization target
type Session struct {
	conn    *database.Connection
	reader  *database.Reader
	vault   *vault.Vault
	lock    *lock.Lock
	differ  *diff.Differ
	writer  *writer.Writer
	options Options
	logger  *logrus.Logger
}

// Report summarizes a run
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	// Passes counts the change sets applied in the run transaction. A
	// follow-up for tables deferred by a meta update makes it two.
	Passes   int
	DryRun   bool
	Summary  []diff.ClassSummary
	Executed []string
}

// NewSession creates a session. A nil lock disables locking.
func NewSession(conn *database.Connection, v *vault.Vault, l *lock.Lock, logger *logrus.Logger, options Options) (*Session, error) {
	reader := conn.Reader(logger)
	if err := reader.SetInfoTablePattern(options.InfoTables); err != nil {
		return nil, err
	}
	if err := v.SetInfoTablePattern(options.InfoTables); err != nil {
		return nil, err
	}

	var writerOptions []writer.Option
	if options.DryRun {
		writerOptions = append(writerOptions, writer.WithDryRun())
	}
	if options.ChunkSize > 0 {
		writerOptions = append(writerOptions, writer.WithChunkSize(options.ChunkSize))
	}

	return &Session{
		conn:    conn,
		reader:  reader,
		vault:   v,
		lock:    l,
		differ:  diff.New(conn.Dialect),
		writer:  writer.New(conn.DB, conn.Dialect, logger, writerOptions...),
		options: options,
		logger:  logger,
	}, nil
}

// Close closes the session connection
func (s *Session) Close() error {
	return s.conn.Close()
}

// acquire takes the session lock and returns its release function
func (s *Session) acquire(ctx context.Context, log *logrus.Entry) (func(), error) {
	if s.lock == nil {
		return func() {}, nil
	}

	if s.options.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.options.LockTimeout)
		defer cancel()
	}
	if err := s.lock.Acquire(ctx); err != nil {
		return nil, err
	}

	return func() {
		if err := s.lock.Release(); err != nil {
			log.WithError(err).Warn("Failed to release lock")
		}
	}, nil
}

// Sync makes the live database match the vault
func (s *Session) Sync(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: time.Now(), DryRun: s.options.DryRun}
	log := s.logger.WithField("run_id", report.RunID)

	if !s.vault.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrNoCapture, s.vault.Path())
	}

	release, err := s.acquire(ctx, log)
	if err != nil {
		return nil, err
	}
	defer release()
	defer s.reader.Reset()

	log.Info("Starting synchronization")

	changeSets, err := s.changeSets(ctx)
	if err != nil {
		return report, err
	}
	report.Passes = len(changeSets)
	for _, cs := range changeSets {
		report.Summary = append(report.Summary, cs.Summary()...)
	}
	if len(changeSets) > 1 {
		log.WithField("tables", changeSets[0].Deferred).Info("Applying follow-up changes for deferred tables")
	}

	if len(changeSets) > 0 {
		executed, err := s.writer.Write(ctx, changeSets...)
		report.Executed = executed
		if err != nil {
			log.WithError(err).WithField("state", s.writer.State()).Error("Synchronization failed")
			return report, err
		}
	}

	report.Duration = time.Since(report.Started)
	log.WithFields(logrus.Fields{
		"passes":     report.Passes,
		"statements": len(report.Executed),
		"duration":   report.Duration,
	}).Info("Synchronization finished")

	return report, nil
}

// Capture stores the live structure in the vault
func (s *Session) Capture(ctx context.Context) (*schema.Snapshot, error) {
	log := s.logger.WithField("run_id", uuid.NewString())

	release, err := s.acquire(ctx, log)
	if err != nil {
		return nil, err
	}
	defer release()

	s.reader.Reset()
	snap, err := s.reader.Read(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.vault.Write(snap); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"tables": len(snap.Tables),
		"vault":  s.vault.Path(),
	}).Info("Captured live schema")
	return snap, nil
}

// Diff returns the changes turning the live database into the vault
func (s *Session) Diff(ctx context.Context) (*diff.ChangeSet, error) {
	defer s.reader.Reset()
	cs, _, _, err := s.compare(ctx)
	return cs, err
}

// Plan returns the statements Sync would execute
func (s *Session) Plan(ctx context.Context) ([]generator.Statement, error) {
	defer s.reader.Reset()
	changeSets, err := s.changeSets(ctx)
	if err != nil {
		return nil, err
	}
	statements, err := s.writer.Plan(changeSets...)
	if err != nil {
		return nil, fmt.Errorf("failed to plan changes: %w", err)
	}
	return statements, nil
}

// changeSets returns the change set of the live database followed by the
// nested changes of the tables it deferred. Nothing is returned when the
// database already matches.
func (s *Session) changeSets(ctx context.Context) ([]*diff.ChangeSet, error) {
	cs, current, target, err := s.compare(ctx)
	if err != nil {
		return nil, err
	}
	if cs.Empty() {
		return nil, nil
	}

	changeSets := []*diff.ChangeSet{cs}
	if len(cs.Deferred) > 0 {
		if next := s.differ.FollowUp(cs, current, target); !next.Empty() {
			changeSets = append(changeSets, next)
		}
	}
	return changeSets, nil
}

func (s *Session) compare(ctx context.Context) (*diff.ChangeSet, *schema.Snapshot, *schema.Snapshot, error) {
	current, err := s.reader.Read(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	target, err := s.vault.Read(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return s.differ.Compare(current, target), current, target, nil
}
