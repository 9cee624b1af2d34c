package campaign

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/backend/mock"
	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

func seeded(t *testing.T) *mock.Backend {
	t.Helper()
	b := mock.New(mock.DefaultOptions())
	b.Seed(
		domain.Campaign{ID: "c1", Name: "Spring promo"},
		map[domain.Group][]domain.Contact{
			{ID: "g1", Name: "Leads"}: {
				{ID: "1", Name: "Ann", Phone: "+15550001"},
				{ID: "2", Name: "No phone"},
			},
			{ID: "g2", Name: "Customers"}: {
				{ID: "3", Name: "Bob", Phone: "+15550002"},
			},
		},
		[]domain.Agent{{ID: "a1", Name: "Riley"}},
	)
	return b
}

func TestRefreshLoadsContactsInGroupOrder(t *testing.T) {
	cc := NewContext(seeded(t), "c1", nil)

	snap, err := cc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Spring promo", snap.Campaign.Name)
	require.Len(t, snap.Contacts, 2)
	assert.Equal(t, "+15550001", snap.Contacts[0].Phone)
	assert.Equal(t, "+15550002", snap.Contacts[1].Phone)
	assert.Equal(t, "a1", snap.SelectedAgent, "single agent is preselected")
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	cc := NewContext(seeded(t), "missing", nil)

	_, err := cc.Refresh(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, "missing", cc.Snapshot().Campaign.ID)
	assert.Empty(t, cc.Snapshot().Contacts)
}

func TestValidateStartPreconditions(t *testing.T) {
	empty := NewContext(seeded(t), "c1", nil)
	_, err := empty.ValidateStart("")
	assert.ErrorIs(t, err, apperrors.ErrPrecondition)

	cc := NewContext(seeded(t), "c1", nil)
	_, err = cc.Refresh(context.Background())
	require.NoError(t, err)

	agent, err := cc.ValidateStart("")
	require.NoError(t, err)
	assert.Equal(t, "a1", agent)

	require.NoError(t, cc.SelectAgent(""))
	_, err = cc.ValidateStart("")
	assert.ErrorIs(t, err, apperrors.ErrPrecondition)
}

func TestSelectAgentRejectsUnknownAgent(t *testing.T) {
	cc := NewContext(seeded(t), "c1", nil)
	_, err := cc.Refresh(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, cc.SelectAgent("nobody"), apperrors.ErrValidation)
	assert.NoError(t, cc.SelectAgent("a1"))
}
