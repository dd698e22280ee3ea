package tenant

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// IsolationMode tells whether a tenant owns a database or shares the main one.
type IsolationMode int

const (
	// Independent tenants have a dedicated database.
	Independent IsolationMode = iota
	// Shared tenants live in the main database, scoped by tenant_id.
	Shared
)

// String returns the lower-case name of the mode.
func (m IsolationMode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Independent:
		return "independent"
	default:
		return "unknown"
	}
}

// Driver names accepted by the store opener.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

var (
	// ErrInvalidDescriptor is returned for a connection descriptor that cannot be parsed.
	ErrInvalidDescriptor = errors.New("invalid tenant connection descriptor")
	// ErrLookupRequired is returned when a registry is built without a lookup.
	ErrLookupRequired = errors.New("tenant lookup is required")
)

// Descriptor describes how to reach one tenant's data store.
type Descriptor struct {
	Key                     string
	Driver                  string
	ConnectionString        string
	ReplicaConnectionString string
	IsolationMode           IsolationMode
}

// ParseDescriptor parses a connection descriptor of the form
// "[discriminator:]dsn". Discriminators are postgres, pgx, sqlite and shared.
// Without one the driver is inferred from the dsn. "shared" (optionally with
// a trailing colon or a dsn, as in "shared:<dsn>") places the tenant in the
// main database.
func ParseDescriptor(key, raw string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	desc := Descriptor{Key: normalizeKey(key)}

	if raw == "" {
		return Descriptor{}, fmt.Errorf("%w: tenant %q has an empty descriptor", ErrInvalidDescriptor, desc.Key)
	}

	prefix, rest, hasPrefix := strings.Cut(raw, ":")
	if strings.EqualFold(strings.TrimSpace(prefix), "shared") {
		// rows live in the main database; a dsn after the colon names it and
		// is not opened again
		desc.IsolationMode = Shared
		return desc, nil
	}

	if hasPrefix && !strings.HasPrefix(rest, "//") {
		switch strings.ToLower(prefix) {
		case "postgres", "postgresql", "pgx":
			desc.Driver = DriverPostgres
			raw = rest
		case "sqlite", "sqlite3":
			desc.Driver = DriverSQLite
			raw = rest
		}
	}

	if desc.Driver == "" {
		desc.Driver = inferDriver(raw)
	}

	primary, replica, _ := strings.Cut(raw, "|")
	desc.ConnectionString = strings.TrimSpace(primary)
	desc.ReplicaConnectionString = strings.TrimSpace(replica)

	if desc.ConnectionString == "" {
		return Descriptor{}, fmt.Errorf("%w: tenant %q has no connection string", ErrInvalidDescriptor, desc.Key)
	}

	return desc, nil
}

func inferDriver(dsn string) string {
	lower := strings.ToLower(dsn)

	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "host="):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

// Lookup resolves a tenant key to its descriptor. found is false when the
// key is unknown; err is reserved for infrastructure faults.
type Lookup interface {
	Lookup(ctx context.Context, key string) (desc Descriptor, found bool, err error)
}

// Discoverer lists the tenant keys known to a lookup.
type Discoverer interface {
	DiscoverTenants(ctx context.Context) ([]string, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, key string) (Descriptor, bool, error)

// Lookup calls f.
func (f LookupFunc) Lookup(ctx context.Context, key string) (Descriptor, bool, error) {
	return f(ctx, key)
}

// StaticLookup serves descriptors from a configuration section mapping
// tenant codes to connection descriptors.
type StaticLookup struct {
	descriptors map[string]Descriptor
}

// NewStaticLookup parses every entry of section.
func NewStaticLookup(section map[string]string) (*StaticLookup, error) {
	descriptors := make(map[string]Descriptor, len(section))

	var errs []error

	for key, raw := range section {
		desc, err := ParseDescriptor(key, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		descriptors[desc.Key] = desc
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &StaticLookup{descriptors: descriptors}, nil
}

// Lookup returns the descriptor configured for key.
func (s *StaticLookup) Lookup(_ context.Context, key string) (Descriptor, bool, error) {
	if s == nil {
		return Descriptor{}, false, nil
	}

	desc, ok := s.descriptors[normalizeKey(key)]

	return desc, ok, nil
}

// DiscoverTenants returns the configured keys in sorted order.
func (s *StaticLookup) DiscoverTenants(_ context.Context) ([]string, error) {
	if s == nil {
		return nil, nil
	}

	return slices.Sorted(maps.Keys(s.descriptors)), nil
}
