package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKey_Symmetric(t *testing.T) {
	assert.Equal(t, PairKey("u1", "u2"), PairKey("u2", "u1"))
	assert.Equal(t, "u1::u2", PairKey(" u2", "u1 "))
	assert.NotEqual(t, PairKey("u1", "u2"), PairKey("u1", "u3"))
}

func TestParseListingKind(t *testing.T) {
	kind, err := ParseListingKind(" Stay ")
	require.NoError(t, err)
	assert.Equal(t, ListingStay, kind)

	kind, err = ParseListingKind("food_experience")
	require.NoError(t, err)
	assert.Equal(t, ListingFoodExperience, kind)

	kind, err = ParseListingKind("")
	require.NoError(t, err)
	assert.Equal(t, ListingKind(""), kind)

	_, err = ParseListingKind("castle")
	assert.ErrorIs(t, err, ErrInvalidListingKind)
}

func TestListingContext_NormalizedDropsKindWithoutListing(t *testing.T) {
	got := ListingContext{ListingKind: ListingStay, Title: "  Trip  "}.Normalized()
	assert.Equal(t, ListingContext{Title: "Trip"}, got)

	got = ListingContext{ListingID: " L1 ", ListingKind: ListingStay}.Normalized()
	assert.Equal(t, ListingContext{ListingID: "L1", ListingKind: ListingStay}, got)
}
