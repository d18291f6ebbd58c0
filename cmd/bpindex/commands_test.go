package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	out, err := execute(t, "3\ninsert x 5\ninsert x 3\nfind x\n", "-p", path)
	require.NoError(t, err)
	assert.Equal(t, "3 5\n", out)

	// State persists into the next run.
	out, err = execute(t, "2\nfind x\nfind y\n", "-p", path)
	require.NoError(t, err)
	assert.Equal(t, "3 5\nnull\n", out)
}

func TestRunInputFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "cmds.txt")
	require.NoError(t, os.WriteFile(input, []byte("2 insert k 1 find k"), 0644))

	out, err := execute(t, "", "-p", filepath.Join(dir, "test.db"), "--backend", "mmap", "-i", input)
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestRunBadStream(t *testing.T) {
	_, err := execute(t, "1\nupsert k 1\n", "--backend", "memory")
	assert.Error(t, err)
}

func TestBadBackend(t *testing.T) {
	_, err := execute(t, "", "--backend", "tape")
	assert.Error(t, err)
}

func TestInspectAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	var cmds strings.Builder
	cmds.WriteString("150\n")
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&cmds, "insert key%03d 1\n", i)
	}
	_, err := execute(t, cmds.String(), "-p", path)
	require.NoError(t, err)

	out, err := execute(t, "", "-p", path, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "Header: root = 1, next id = 3")
	assert.Contains(t, out, "INTERNAL")

	out, err = execute(t, "", "-p", path, "verify")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ok\n"))
	assert.Contains(t, out, "height:         2")
	assert.Contains(t, out, "entries:        150")
}
