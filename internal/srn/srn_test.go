package srn

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateRoundTrip(t *testing.T) {
	for _, typeID := range []string{
		"srn:type:work-product/WellLog:",
		"srn:type:work-product-component/WellLog:1",
		"srn:type:file/las2:3",
	} {
		t.Run(typeID, func(t *testing.T) {
			parsedType, err := ParseTypeID(typeID)
			require.NoError(t, err)

			s, err := Allocate(typeID)
			require.NoError(t, err)

			decoded, err := Parse(s)
			require.NoError(t, err)
			assert.Equal(t, parsedType.Type, decoded.Type)
			assert.Len(t, decoded.ID, 32)

			_, err = strconv.Atoi(decoded.Version)
			assert.NoError(t, err, "version marker must be numeric")
			assert.Equal(t, s, decoded.String())
		})
	}
}

func TestAllocateIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s, err := Allocate("srn:type:file/las2:")
		require.NoError(t, err)
		require.False(t, seen[s], "duplicate srn %s", s)
		seen[s] = true
	}
}

func TestAllocateRejectsBadTypeID(t *testing.T) {
	_, err := Allocate("file/las2")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "srn:file/las2", "srn:file/las2:xyz:1", "srn:file/las2:0123456789abcdef0123456789abcdef:"} {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrInvalid, s)
	}
}

func TestPrepareTypeID(t *testing.T) {
	assert.Equal(t, "srn:type:file/las2:1", PrepareTypeID("srn:type:file/las2:"))
	assert.Equal(t, "srn:type:file/las2:4", PrepareTypeID("srn:type:file/las2:4"))
	assert.Equal(t, "garbage", PrepareTypeID("garbage"))
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "srn:work-productWellLog:abc:1", DocumentID("srn:work-product/WellLog:abc:1"))
}
