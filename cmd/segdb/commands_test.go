package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/segdb/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "tables": [
    {"name": "User", "fields": [
      {"name": "Name", "type": "TEXT"},
      {"name": "Age", "type": "INTEGER"},
      {"name": "Groups", "type": "LINK", "target": "Group", "inverse": "Members"}
    ]},
    {"name": "Group", "fields": [
      {"name": "Title", "type": "TEXT"},
      {"name": "Members", "type": "LINK", "target": "User", "inverse": "Groups"}
    ]}
  ]
}`

const testObjects = `{"table": "User", "key": "u1", "fields": {"Name": ["Alice"], "Age": ["30"], "Groups": ["g1"]}}
{"table": "User", "key": "u2", "fields": {"Name": ["Bob"], "Age": ["25"]}}
{"table": "Group", "key": "g1", "fields": {"Title": ["admins"]}}
{"table": "User", "key": "u2", "deleted": true}
`

func setup(t *testing.T) (func(args ...string) string, string) {
	t.Helper()
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(testSchema), 0o644))
	data := filepath.Join(dir, "data")

	cli := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		full := append([]string{"-dir", data, "-schema", schemaPath}, args...)
		require.NoError(t, run(context.Background(), full, strings.NewReader(testObjects), &out))
		return out.String()
	}
	return cli, dir
}

func TestCommands(t *testing.T) {
	cli, _ := setup(t)

	assert.Equal(t, "seg-000001: 2 objects\nseg-000002: 2 objects\n", cli("ingest", "-batch", "2", "-"))
	assert.Equal(t, "u1\n", cli("ids", "User"))
	assert.Equal(t, "u1\n", cli("term", "User", "Name", "alice"))
	assert.Equal(t, "30\n", cli("get", "User", "Age", "u1"))
	assert.Equal(t, "Alice\n", cli("get", "User", "Name", "u1"))
	assert.Equal(t, "g1\n", cli("get", "User", "Groups", "u1"))
	assert.Equal(t, "u1\n", cli("get", "Group", "Members", "g1"))

	out := cli("segments")
	assert.Contains(t, out, "SEGMENT")
	assert.Equal(t, 5, strings.Count(out, "\n"), out)

	assert.Contains(t, cli("merge"), "merged 2 segments into seg-000003")
	assert.Equal(t, "u1\n", cli("ids", "User"))

	assert.Equal(t, "seg-000003: version 2, lz4\n", cli("-compression", "lz4", "rewrite", "seg-000003"))
	assert.Equal(t, "30\n", cli("get", "User", "Age", "u1"))
	assert.Contains(t, cli("merge", "seg-000003"), "merged 1 segments into seg-000004")
}

func TestCommandErrors(t *testing.T) {
	_, dir := setup(t)
	schemaPath := filepath.Join(dir, "schema.json")
	data := filepath.Join(dir, "data")

	exec := func(args ...string) error {
		var out bytes.Buffer
		full := append([]string{"-dir", data, "-schema", schemaPath}, args...)
		return run(context.Background(), full, strings.NewReader(""), &out)
	}

	assert.ErrorIs(t, exec("frobnicate"), errUsage)
	assert.ErrorIs(t, exec("ids"), errUsage)
	assert.ErrorIs(t, exec("rewrite"), errUsage)
	assert.Error(t, exec("rewrite", "seg-x"))
	assert.Error(t, exec("-compression", "snappy", "ids", "User"))
	assert.Error(t, exec("-schema", filepath.Join(dir, "missing.json"), "ids", "User"))
}

func TestParseSegmentID(t *testing.T) {
	for in, want := range map[string]model.SegmentID{"seg-000042": 42, "7": 7} {
		got, err := parseSegmentID(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "seg-", "0", "x1"} {
		_, err := parseSegmentID(bad)
		assert.Error(t, err, bad)
	}
}
