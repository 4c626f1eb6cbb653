package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		require.Len(t, next, 26)
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestWithPrefixAndTime(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	s := WithPrefix("view")
	assert.True(t, strings.HasPrefix(s, "view_"))

	ts, err := Time(s)
	require.NoError(t, err)
	assert.True(t, ts.After(before))
	assert.True(t, ts.Before(time.Now().Add(time.Second)))
}

func TestTimeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Time("view_not-a-ulid")
	assert.Error(t, err)
}
