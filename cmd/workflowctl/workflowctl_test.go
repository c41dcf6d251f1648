package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

const ticketYAML = `name: ticket
version: "3"
entity_type: ticket
states:
  - name: Open
    is_initial: true
    transitions:
      - trigger: Assign
        target: InProgress
        guard:
          kind: permission
          permissions: [ticket.assign]
  - name: InProgress
    description: someone is working on it
    transitions:
      - trigger: Resolve
        target: Closed
  - name: Closed
    is_final: true
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	valid := writeFile(t, "ticket.yaml", ticketYAML)
	noInitial := writeFile(t, "broken.json", `{"name":"b","entity_type":"b","states":[{"name":"A"}]}`)

	out, err := execute(t, "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   "+valid)
	assert.Contains(t, out, "3 states, 2 transitions, initial Open")

	out, err = execute(t, "validate", valid, noInitial)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL "+noInitial)
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestValidate_States(t *testing.T) {
	path := writeFile(t, "ticket.yaml", ticketYAML)

	out, err := execute(t, "validate", "--states", path)
	require.NoError(t, err)
	assert.Regexp(t, `Open\s+initial\s+-> \[Assign\]`, out)
	assert.Regexp(t, `Closed\s+final\s+-> \[\]`, out)
	assert.Contains(t, out, "triggers: Assign, Resolve")
}

func TestValidate_UnknownConditionKind(t *testing.T) {
	path := writeFile(t, "odd.yaml", `name: odd
entity_type: odd
states:
  - name: A
    is_initial: true
    transitions:
      - trigger: go
        target: A
        guard:
          kind: weekday
`)

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "unknown condition kind: weekday")
	assert.Contains(t, out, "permission]")
}

func TestValidate_ShippedDefinition(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join("..", "..", "configs", "definitions", "invoice.yaml"))
	assert.NoError(t, err)
}

func TestLoadDefinition_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "ticket.txt", ticketYAML)
	_, err := execute(t, "validate", path)
	assert.Error(t, err)
}

func TestSimulate(t *testing.T) {
	path := writeFile(t, "ticket.yaml", ticketYAML)

	t.Run("completes with permission", func(t *testing.T) {
		out, err := execute(t, "simulate", path, "--permission", "ticket.assign", "-t", "Assign,Resolve")
		require.NoError(t, err)
		assert.Contains(t, out, "Start: $bootstrap -> Open")
		assert.Contains(t, out, "Assign: Open -> InProgress")
		assert.Contains(t, out, "  someone is working on it")
		assert.Contains(t, out, "completed in final state Closed")
	})

	t.Run("guard rejects without permission", func(t *testing.T) {
		_, err := execute(t, "simulate", path, "-t", "Assign")
		require.Error(t, err)
		assert.ErrorIs(t, err, domainwf.ErrGuardFailed)
	})

	t.Run("ignore policy skips guards", func(t *testing.T) {
		out, err := execute(t, "simulate", path, "--guard-policy", "ignore", "-t", "Assign")
		require.NoError(t, err)
		assert.Contains(t, out, "permitted [Resolve]")
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := execute(t, "simulate", path, "--guard-policy", "sometimes")
		assert.Error(t, err)
	})
}

func TestConvert(t *testing.T) {
	path := writeFile(t, "ticket.yaml", ticketYAML)

	out, err := execute(t, "convert", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"entity_type": "ticket"`)
	assert.Contains(t, out, `"kind": "permission"`)

	jsonPath := writeFile(t, "ticket.json", out)
	out, err = execute(t, "convert", jsonPath, "--to", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "entity_type: ticket")

	_, err = execute(t, "convert", path, "--to", "xml")
	assert.Error(t, err)
}
