package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tracing"
)

func TestNewStore_RequiresDatabase(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil)
	require.ErrorIs(t, err, ErrDatabaseRequired)
}

func TestConnect_RequiresURI(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), "  ", 0)
	require.ErrorIs(t, err, ErrEmptyURI)
}

func TestFilterQuery(t *testing.T) {
	t.Parallel()

	assert.Empty(t, filterQuery(tracing.Filter{}))

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	query := filterQuery(tracing.Filter{
		TraceID:  "t-1",
		TenantID: "acme",
		Status:   tracing.StatusFail,
		From:     from,
		To:       to,
	})

	assert.Equal(t, bson.M{
		"trace_id":  "t-1",
		"tenant_id": "acme",
		"status":    "Fail",
		"begin_at":  bson.M{"$gte": from, "$lt": to},
	}, query)
}
