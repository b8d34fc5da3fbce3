// Package vault persists schema snapshots as zstd-compressed JSON files.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/koba/schemasync/internal/schema"
)

// Vault is a snapshot file. Reads are cached until Reset is called.
type Vault struct {
	path    string
	logger  *logrus.Logger
	pattern *regexp.Regexp
	cached  *schema.Snapshot
}

// New creates a vault stored at path
func New(path string, logger *logrus.Logger) *Vault {
	return &Vault{path: path, logger: logger}
}

// Path returns the vault file path
func (v *Vault) Path() string {
	return v.path
}

// Exists reports whether a snapshot has been written
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// SetInfoTablePattern sets the pattern of tables whose rows are kept after
// loading. Rows of other tables are dropped.
func (v *Vault) SetInfoTablePattern(pattern string) error {
	re, err := schema.CompileInfoTablePattern(pattern)
	if err != nil {
		return err
	}
	v.pattern = re
	v.Reset()
	return nil
}

// Reset drops the cached snapshot
func (v *Vault) Reset() {
	v.cached = nil
}

// Read loads the snapshot. A missing file yields an empty snapshot.
func (v *Vault) Read(ctx context.Context) (*schema.Snapshot, error) {
	if v.cached != nil {
		return v.cached, nil
	}

	f, err := os.Open(v.path)
	if errors.Is(err, os.ErrNotExist) {
		v.logger.WithField("path", v.path).Debug("Vault does not exist yet, using an empty snapshot")
		v.cached = schema.NewSnapshot()
		return v.cached, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	defer f.Close()

	snap, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load vault %s: %w", v.path, err)
	}

	for table := range snap.Data {
		if v.pattern == nil || !v.pattern.MatchString(table) {
			delete(snap.Data, table)
		}
	}

	v.logger.WithFields(logrus.Fields{
		"path":   v.path,
		"tables": len(snap.Tables),
		"data":   len(snap.Data),
	}).Debug("Loaded vault")

	v.cached = snap
	return snap, nil
}

// Write replaces the vault content with snap
func (v *Vault) Write(snap *schema.Snapshot) error {
	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary vault: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close vault: %w", err)
	}
	if err := os.Rename(tmp.Name(), v.path); err != nil {
		return fmt.Errorf("failed to replace vault: %w", err)
	}

	v.logger.WithFields(logrus.Fields{
		"path":   v.path,
		"tables": len(snap.Tables),
	}).Info("Vault written")

	v.Reset()
	return nil
}

// Encode writes snap as compressed JSON. Output is deterministic for equal
// snapshots.
func Encode(w io.Writer, snap *schema.Snapshot) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("failed to create compressor: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		enc.Close()
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}
	return nil
}

// Decode reads a snapshot written by Encode
func Decode(r io.Reader) (*schema.Snapshot, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}
	defer dec.Close()

	snap := &schema.Snapshot{}
	if err := json.NewDecoder(dec).Decode(snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	snap.Normalize()
	return snap, nil
}
