package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/scrape-forge/internal/artifact"
)

func TestMergeCommand(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.csv")
	second := filepath.Join(dir, "b.csv")
	out := filepath.Join(dir, "merged.csv")
	require.NoError(t, os.WriteFile(first, []byte("job_id,title,company\n1,Go,Acme\n2,SRE,Initech\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("job_id,title,company\n2,SRE,Initech\n3,QA,Globex\n"), 0o600))

	cmd := newMergeCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--out", out, first, second})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "added 3, skipped 1", strings.TrimSpace(stdout.String()))

	rows, err := artifact.CountRows(out)
	require.NoError(t, err)
	require.Equal(t, 3, rows)
}

func TestRunCommandMissingFeed(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"feed":"`+filepath.ToSlash(filepath.Join(dir, "none.csv"))+`","outputFile":"`+filepath.ToSlash(filepath.Join(dir, "out.csv"))+`"}`), 0o600))

	cmd := newRunCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfgPath})
	require.Error(t, cmd.Execute())
}
