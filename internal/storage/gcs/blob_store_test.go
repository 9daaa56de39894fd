package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "hoops"})
	require.ErrorContains(t, err, "client")

	_, err = New(&storage.Client{}, Config{Bucket: " "})
	require.ErrorContains(t, err, "bucket")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "hoops", Prefix: "/raw/nba/"})
	require.NoError(t, err)
	assert.Equal(t, "raw/nba/team_standings/NBA_Season_1998_Standings.html",
		store.ObjectName("team_standings/NBA_Season_1998_Standings.html"))

	bare, err := New(&storage.Client{}, Config{Bucket: "hoops"})
	require.NoError(t, err)
	assert.Equal(t, "NBA_Season_2024_Rookies.html", bare.ObjectName("/NBA_Season_2024_Rookies.html"))
}
