package approval

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "approvals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("secret-token")
	assert.Len(t, fp, FingerprintLen)
	assert.Equal(t, fp, Fingerprint("secret-token"), "fingerprint must be deterministic")
	assert.NotEqual(t, fp, Fingerprint("other-token"))
	assert.NotContains(t, fp, "secret", "fingerprint must not leak token content")
}

func TestCreateAndLookup(t *testing.T) {
	reg := openTestRegistry(t)

	token, rec, err := reg.Create("draft-1", "alice", "customer asked for follow-up", "OPS-42")
	require.NoError(t, err)
	assert.Len(t, token, 32, "token should be 32 hex chars")
	assert.Equal(t, Fingerprint(token), rec.Fingerprint)
	assert.False(t, rec.Consumed)

	got, err := reg.Lookup(rec.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "draft-1", got.DraftID)
	assert.Equal(t, "alice", got.ApprovedBy)
	assert.Equal(t, "OPS-42", got.Ticket)
}

func TestLookupMissing(t *testing.T) {
	reg := openTestRegistry(t)

	got, err := reg.Lookup("deadbeef")
	require.NoError(t, err, "a missing fingerprint is not an error")
	assert.Nil(t, got)
}

func TestLookupByDraftReturnsLatest(t *testing.T) {
	reg := openTestRegistry(t)

	_, _, err := reg.Create("draft-1", "alice", "first", "")
	require.NoError(t, err)
	_, second, err := reg.Create("draft-1", "bob", "second", "")
	require.NoError(t, err)

	got, err := reg.LookupByDraft("draft-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.Fingerprint, got.Fingerprint, "want the most recent approval")

	none, err := reg.LookupByDraft("draft-unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestBurnIsSingleUse(t *testing.T) {
	reg := openTestRegistry(t)

	_, rec, err := reg.Create("draft-1", "alice", "reason", "")
	require.NoError(t, err)

	require.NoError(t, reg.Burn(rec.Fingerprint))

	got, err := reg.Lookup(rec.Fingerprint)
	require.NoError(t, err)
	assert.True(t, got.Consumed)
	assert.NotNil(t, got.ConsumedAt)

	assert.Error(t, reg.Burn(rec.Fingerprint), "second burn must fail")
}

func TestBurnUnknownFingerprint(t *testing.T) {
	reg := openTestRegistry(t)
	assert.Error(t, reg.Burn("deadbeef"))
}
