package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/typesarecool/myhn/pkg/item"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "", testLogger())
	require.Error(t, err)
}

func TestKindPtr(t *testing.T) {
	require.Nil(t, kindPtr(""))
	require.Equal(t, "story", *kindPtr(item.KindStory))
}

func TestNilIfEmpty(t *testing.T) {
	require.Nil(t, nilIfEmpty(nil))
	require.Nil(t, nilIfEmpty([]int64{}))
	require.Equal(t, []int64{1, 2}, nilIfEmpty([]int64{1, 2}))
}
