package uow

import "database/sql"

// Propagation decides whether Begin joins an ambient unit.
type Propagation int

const (
	// Required joins the unit already in the context, or opens one.
	Required Propagation = iota
	// RequiresNew always opens an independent unit.
	RequiresNew
)

// String returns the name of the propagation.
func (p Propagation) String() string {
	switch p {
	case Required:
		return "required"
	case RequiresNew:
		return "requires_new"
	default:
		return "unknown"
	}
}

// BeginOption configures Begin.
type BeginOption func(*beginConfig)

type beginConfig struct {
	propagation Propagation
	isolation   sql.IsolationLevel
	readOnly    bool
}

// WithPropagation sets the propagation. The default is Required.
func WithPropagation(p Propagation) BeginOption {
	return func(cfg *beginConfig) {
		cfg.propagation = p
	}
}

// WithIsolation sets the isolation level of the transaction.
func WithIsolation(level sql.IsolationLevel) BeginOption {
	return func(cfg *beginConfig) {
		cfg.isolation = level
	}
}

// WithReadOnly opens a read-only transaction.
func WithReadOnly() BeginOption {
	return func(cfg *beginConfig) {
		cfg.readOnly = true
	}
}

func (cfg beginConfig) txOptions() *sql.TxOptions {
	if cfg.isolation == sql.LevelDefault && !cfg.readOnly {
		return nil
	}

	return &sql.TxOptions{Isolation: cfg.isolation, ReadOnly: cfg.readOnly}
}
