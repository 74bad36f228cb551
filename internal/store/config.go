// Package store persists the account/rule configuration document as
// whole-document JSON, rewritten atomically on every mutation, with field
// names fixed by long-lived external clients, and provides the
// append-only event log sinks. The retry queue document is persisted by
// package retryqueue.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/percebe/percebe/internal/logging"
)

// Rule is a single forwarding predicate plus its destination list.
type Rule struct {
	Name               string   `json:"nombre" validate:"required"`
	Active             bool     `json:"activa"`
	Senders            []string `json:"remitentes"`
	SubjectKeywords    []string `json:"palabras_clave"`
	Recipients         []string `json:"destinatarios" validate:"dive,email"`
	IncludeAttachments bool     `json:"incluir_adjuntos"`
}

// Account is a single IMAP+SMTP credential pair with its own rule list.
type Account struct {
	Name         string `json:"nombre" validate:"required"`
	Active       bool   `json:"activa"`
	IMAPHost     string `json:"imap_server" validate:"required,hostname_port|hostname"`
	IMAPUser     string `json:"imap_user" validate:"required"`
	IMAPPassword string `json:"imap_password" validate:"required"`
	SMTPHost     string `json:"smtp_server" validate:"required,hostname_port|hostname"`
	SMTPPort     int    `json:"smtp_port" validate:"required,min=1,max=65535"`
	SMTPUser     string `json:"smtp_user" validate:"required"`
	SMTPPassword string `json:"smtp_password" validate:"required"`
	Rules        []Rule `json:"reglas" validate:"dive"`
}

// Configuration is the singleton document describing every account and
// the engine's own runtime knobs.
type Configuration struct {
	Accounts        []Account `json:"cuentas" validate:"dive"`
	IntervalSeconds int       `json:"intervalo_revision" validate:"min=1"`
	APIEnabled      bool      `json:"api_enabled"`
	APIPort         int       `json:"api_port" validate:"min=0,max=65535"`
	VerboseLogging  bool      `json:"logs_completos"`
}

// DefaultConfig matches percebe_server.py's in-memory default when no
// config file exists yet on disk.
func DefaultConfig() Configuration {
	return Configuration{
		Accounts:        []Account{},
		IntervalSeconds: 60,
		APIEnabled:      true,
		APIPort:         5555,
		VerboseLogging:  false,
	}
}

// Store wraps the in-memory Configuration with a mutex so readers on the
// RPC goroutine and the scheduler goroutine never observe a partial
// document during a set_config replace.
type Store struct {
	mu   sync.RWMutex
	cfg  Configuration
	path string
}

// Open loads the configuration document from path, falling back to
// DefaultConfig whenever it is missing, unreadable, or malformed. A
// broken config file never aborts startup: the failure is logged and
// the engine keeps running on defaults, exactly as percebe_server.py's
// load_config does.
func Open(path string, logger *logging.Logger) *Store {
	s := &Store{path: path, cfg: DefaultConfig()}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("failed to read configuration, using defaults", "path", path, "error", err)
		}
		return s
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Error("failed to parse configuration, using defaults", "path", path, "error", err)
		return s
	}
	s.cfg = cfg
	return s
}

// Get returns a copy of the current configuration document.
func (s *Store) Get() Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Replace swaps the in-memory document and persists it atomically. This
// is the only mutation path — readers always see either the old or the
// new document in full, never a mix.
func (s *Store) Replace(cfg Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSONAtomic(s.path, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

// writeJSONAtomic serializes v as pretty-printed JSON and publishes it to
// path via write-then-rename, so a crash mid-write never leaves a
// truncated or half-written document behind.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s to %s: %w", tmpPath, path, err)
	}
	return nil
}
