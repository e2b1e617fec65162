package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

func TestParseProviders(t *testing.T) {
	providers, err := parseProviders([]string{"arxiv", "google_scholar"})
	require.NoError(t, err)
	assert.Equal(t, []domain.SourceType{domain.SourceTypeArXiv, domain.SourceTypeGoogleScholar}, providers)

	providers, err = parseProviders(nil)
	require.NoError(t, err)
	assert.Empty(t, providers)

	_, err = parseProviders([]string{"pubmed"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitConfigError, exitCode(fmt.Errorf("build pipeline: %w",
		domain.NewConfigurationError("store.driver", "bad", nil))))
	assert.Equal(t, ExitRunInProgress, exitCode(domain.ErrRunInProgress))
	assert.Equal(t, ExitError, exitCode(errors.New("boom")))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })

	summary := domain.NewRunSummary(domain.IngestModeHistorical, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	summary.Add(domain.TaskResult{Source: domain.SourceTypeArXiv, Query: "cs.AI", Inserted: 3})

	err := printSummary(summary, context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "historical", decoded["mode"])
	assert.EqualValues(t, 3, decoded["total_inserted"])

	buf.Reset()
	require.ErrorIs(t, printSummary(nil, domain.ErrRunInProgress), domain.ErrRunInProgress)
	assert.Empty(t, buf.String())
}

func TestParseMigrationArg(t *testing.T) {
	n, err := parseMigrationArg("steps", "-2")
	require.NoError(t, err)
	assert.Equal(t, -2, n)

	_, err = parseMigrationArg("version", "latest")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRootCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"backfill", "sync", "status", "migrate"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}

	cmd, _, err := rootCmd.Find([]string{"migrate", "steps"})
	require.NoError(t, err)
	assert.Equal(t, "steps", cmd.Name())
	assert.Error(t, cmd.Args(cmd, nil))
}
