package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveDBPathPrefixesBarePath(t *testing.T) {
	require.Equal(t, "sqlite://data/syncline.db?mode=rwc", ResolveDBPath("data/syncline.db"))
}

func TestResolveDBPathPassesThroughQualifiedURL(t *testing.T) {
	url := "sqlite://custom.db?mode=ro"
	require.Equal(t, url, ResolveDBPath(url))
}
