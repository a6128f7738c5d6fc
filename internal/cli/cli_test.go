package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDemoConverges(t *testing.T) {
	out, err := runCommand(t, "demo", "--nodes", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "All nodes converged.")
	assert.Contains(t, out, "node-3")
}

func TestDemoRejectsSingleNode(t *testing.T) {
	_, err := runCommand(t, "demo", "--nodes", "1")
	assert.Error(t, err)
}

func TestDemoPersistsAndShowLists(t *testing.T) {
	db := filepath.Join(t.TempDir(), "demo.db")

	out, err := runCommand(t, "demo", "--nodes", "2", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Persisted 2 node states")

	out, err = runCommand(t, "show", "--db", db)
	require.NoError(t, err)
	nodes := strings.Fields(out)
	assert.ElementsMatch(t, []string{"node-1", "node-2"}, nodes)

	out, err = runCommand(t, "show", "--db", db, "node-1")
	require.NoError(t, err)
	assert.Contains(t, out, "node:       node-1")
	assert.Contains(t, out, "documents:")
}

func TestShowRequiresDB(t *testing.T) {
	_, err := runCommand(t, "show")
	assert.Error(t, err)
}
