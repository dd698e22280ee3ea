package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveKey_Precedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		signals Signals
		want    string
	}{
		{name: "none", signals: Signals{}, want: MainKey},
		{name: "claim only", signals: Signals{Claim: "c"}, want: "c"},
		{name: "query over claim", signals: Signals{Query: "q", Claim: "c"}, want: "q"},
		{name: "header over all", signals: Signals{Header: "h", Query: "q", Claim: "c"}, want: "h"},
		{name: "blank header skipped", signals: Signals{Header: "  ", Query: "q"}, want: "q"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, ResolveKey(tt.signals))
		})
	}
}

func TestResolveAppID(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ResolveAppID(Signals{}))
	assert.Equal(t, "web", ResolveAppID(Signals{AppHeader: "web", AppQuery: "q", AppClaim: "c"}))
	assert.Equal(t, "c", ResolveAppID(Signals{AppClaim: "c"}))
}
