package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(context.Background(), append([]string{"--data-dir", dir, "--log-level", "error"}, args...), &out, &errOut)
	return out.String(), err
}

func TestRun_ExecScanInspect(t *testing.T) {
	dir := t.TempDir()

	out, err := runCmd(t, dir, "exec", "CREATE TABLE pets (id IDENTITY, name VARCHAR(20) UNIQUE, legs INTEGER)")
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)

	out, err = runCmd(t, dir, "exec", "INSERT INTO pets (name, legs) VALUES ('rex', 4)")
	require.NoError(t, err)
	assert.Contains(t, out, "1 row(s) affected")

	_, err = runCmd(t, dir, "exec", "INSERT INTO pets (name, legs) VALUES ('rex', 3)")
	require.Error(t, err)

	out, err = runCmd(t, dir, "scan", "pets")
	require.NoError(t, err)
	assert.Contains(t, out, "rex")
	assert.Contains(t, out, "(1 rows)")

	out, err = runCmd(t, dir, "inspect", "pets")
	require.NoError(t, err)
	assert.Contains(t, out, "RowStore-DB")
	assert.Contains(t, out, "CREATE TABLE pets(")
	assert.Regexp(t, `index name\s+root \d+, 1 keys`, out)

	out, err = runCmd(t, dir, "tables")
	require.NoError(t, err)
	assert.Equal(t, "pets\n", out)
}

func TestRun_Load(t *testing.T) {
	dir := t.TempDir()

	out, err := runCmd(t, dir, "--workers", "4", "--rows", "500", "load", "bench")
	require.NoError(t, err)
	assert.Contains(t, out, "inserted 500 rows")

	out, err = runCmd(t, dir, "--rows", "100", "load", "bench")
	require.NoError(t, err)
	assert.Contains(t, out, "inserted 100 rows")

	out, err = runCmd(t, dir, "inspect", "bench")
	require.NoError(t, err)
	assert.Regexp(t, `rows\s+600`, out)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := runCmd(t, dir)
	require.Error(t, err)

	_, err = runCmd(t, dir, "frobnicate", "x")
	require.Error(t, err)

	_, err = runCmd(t, dir, "scan")
	require.Error(t, err)

	_, err = runCmd(t, dir, "scan", "missing")
	require.Error(t, err)

	_, err = runCmd(t, dir, "--no-such-flag")
	require.Error(t, err)
}
