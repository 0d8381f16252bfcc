package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDecodeLegacyMembersStrict(t *testing.T) {
	t.Parallel()

	a, b := uuid.NewString(), uuid.NewString()
	dec := DecodeLegacyMembers(`["` + a + `","` + b + `"]`)
	require.True(t, dec.Strict)
	require.Equal(t, []string{a, b}, dec.IDs)
	require.Empty(t, dec.BadTokens)
}

func TestDecodeLegacyMembersEmpty(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "[]"} {
		dec := DecodeLegacyMembers(raw)
		require.True(t, dec.Strict, "raw %q", raw)
		require.Empty(t, dec.IDs)
		require.Empty(t, dec.BadTokens)
	}
}

func TestDecodeLegacyMembersShortIDs(t *testing.T) {
	t.Parallel()

	// ids from the pre-uuid generator: base36 timestamp, dash, six chars
	dec := DecodeLegacyMembers(`["m3kfw9qz-4f7b2c","m3kfx102-a0b1c2"]`)
	require.True(t, dec.Strict)
	require.Len(t, dec.IDs, 2)
}

func TestDecodeLegacyMembersTolerant(t *testing.T) {
	t.Parallel()

	a, b := uuid.NewString(), uuid.NewString()
	cases := map[string]string{
		"semicolons":     a + `; ` + b,
		"pipes":          a + `|` + b,
		"quote debris":   `"` + a + `", '` + b + `'`,
		"bracket debris": `[` + a + `, ` + b + `]`,
		"double encoded": `"[\"` + a + `\",\"` + b + `\"]"`,
	}
	for name, raw := range cases {
		dec := DecodeLegacyMembers(raw)
		require.False(t, dec.Strict, "%s: %q", name, raw)
		require.Equal(t, []string{a, b}, dec.IDs, "%s: %q", name, raw)
	}
}

func TestDecodeLegacyMembersBadTokens(t *testing.T) {
	t.Parallel()

	a := uuid.NewString()
	dec := DecodeLegacyMembers(a + `, GARBAGE, not_an_id`)
	require.False(t, dec.Strict)
	require.Equal(t, []string{a}, dec.IDs)
	require.Equal(t, []string{"GARBAGE", "not_an_id"}, dec.BadTokens)

	dec = DecodeLegacyMembers(`completely broken`)
	require.Empty(t, dec.IDs)
	require.Len(t, dec.BadTokens, 2)
}

func TestSuggestLineID(t *testing.T) {
	t.Parallel()

	target := uuid.NewString()
	known := []string{target, uuid.NewString(), uuid.NewString()}

	got, ok := SuggestLineID(target[:len(target)-2], known)
	require.True(t, ok)
	require.Equal(t, target, got)

	// nothing close enough
	_, ok = SuggestLineID("zz", known)
	require.False(t, ok)

	_, ok = SuggestLineID("anything", nil)
	require.False(t, ok)
}
