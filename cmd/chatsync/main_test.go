package main

import (
	"bytes"
	"testing"

	"chat-vectorsync/internal/models"
	"chat-vectorsync/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func findCommand(t *testing.T, app *cli.App, name string) *cli.Command {
	t.Helper()
	for _, cmd := range app.Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("command %q not registered", name)
	return nil
}

func TestRequiredFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		missing string
	}{
		{"export needs output", []string{"chatsync", "export"}, "output"},
		{"import needs input", []string{"chatsync", "import"}, "input"},
		{"migrate-session needs from", []string{"chatsync", "migrate-session", "--to", "b"}, "from"},
		{"migrate-session needs to", []string{"chatsync", "migrate-session", "--from", "a"}, "to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp()
			app.Writer = &bytes.Buffer{}
			app.ErrWriter = &bytes.Buffer{}

			err := app.Run(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.missing)
		})
	}
}

func TestBatchRequestFromFlags(t *testing.T) {
	capture := func(t *testing.T, command string, args ...string) services.BatchRequest {
		t.Helper()
		app := newApp()
		var req services.BatchRequest
		findCommand(t, app, command).Action = func(c *cli.Context) error {
			req = batchRequestFromFlags(c, operationFor(command))
			return nil
		}
		require.NoError(t, app.Run(append([]string{"chatsync", command}, args...)))
		return req
	}

	t.Run("defaults leave the guard to configuration", func(t *testing.T) {
		req := capture(t, "generate-vectors")
		assert.Equal(t, services.OperationGenerateVectors, req.Operation)
		assert.True(t, req.MissingOnly)
		assert.Nil(t, req.MaxResultsGuard)
		assert.False(t, req.DisableGuard)
		assert.NotEmpty(t, req.BatchID)
	})

	t.Run("explicit zero guard is kept", func(t *testing.T) {
		req := capture(t, "generate-vectors", "--max-results", "0", "--session", "s1", "--batch-size", "25")
		require.NotNil(t, req.MaxResultsGuard)
		assert.Equal(t, 0, *req.MaxResultsGuard)
		assert.Equal(t, "s1", req.SessionID)
		assert.Equal(t, 25, req.BatchSize)
	})

	t.Run("upload all", func(t *testing.T) {
		req := capture(t, "upload", "--all", "--no-guard")
		assert.Equal(t, services.OperationUpload, req.Operation)
		assert.False(t, req.MissingOnly)
		assert.True(t, req.DisableGuard)
	})
}

func operationFor(command string) string {
	if command == "upload" {
		return services.OperationUpload
	}
	return services.OperationGenerateVectors
}

func TestPrintResult(t *testing.T) {
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out

	var got error
	findCommand(t, app, "runs").Action = func(c *cli.Context) error {
		got = printResult(c, &models.MigrationResult{Success: false, Operation: "import", Errors: []string{"boom"}}, nil)
		return nil
	}
	require.NoError(t, app.Run([]string{"chatsync", "runs"}))

	require.Error(t, got)
	exitErr, ok := got.(cli.ExitCoder)
	require.True(t, ok)
	assert.Equal(t, 2, exitErr.ExitCode())
	assert.Contains(t, out.String(), `"operation": "import"`)
}
