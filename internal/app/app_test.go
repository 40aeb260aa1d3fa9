package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/weave/store"
	"github.com/jacentio/weave/store/memory"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestOpen(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"weave.yaml": `
database:
  connections:
    default: {driver: memory}
  entities:
    - name: Person
      table: persons
`,
		"fixtures.json": `{"persons": [{"id": 1}]}`,
	})

	a, err := Open(Options{
		ConfigPath: filepath.Join(dir, "weave.yaml"),
		LogOutput:  io.Discard,
		Fixtures:   filepath.Join(dir, "fixtures.json"),
	})
	require.NoError(t, err)
	defer a.Close()

	rows, err := a.Fetch(context.Background(), "Person", store.Where{"id": 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	drv, err := a.Registry.Entity(context.Background(), "Person")
	require.NoError(t, err)
	assert.Equal(t, memory.DriverID, drv.(*memory.Driver).Options().Connections.Read.Driver)

	f, err := a.Formatter()
	require.NoError(t, err)
	assert.Empty(t, f.Formats())

	_, err = a.Rules("")
	assert.Error(t, err)
}

func TestOpenInvalidLogLevel(t *testing.T) {
	dir := writeFiles(t, map[string]string{"weave.yaml": "logging: {level: loud}\n"})

	_, err := Open(Options{ConfigPath: filepath.Join(dir, "weave.yaml"), LogOutput: io.Discard})
	assert.Error(t, err)
}

func TestOpenMissingFixtures(t *testing.T) {
	dir := writeFiles(t, map[string]string{"weave.yaml": "{}\n"})

	_, err := Open(Options{
		ConfigPath: filepath.Join(dir, "weave.yaml"),
		LogOutput:  io.Discard,
		Fixtures:   filepath.Join(dir, "missing.json"),
	})
	assert.Error(t, err)
}

func TestStreamHandler(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"weave.yaml": `
database:
  connections:
    default: {driver: memory}
stream:
  - table: posts
    rules: posts.rules.yaml
`,
		"posts.rules.yaml": `
user_id:
  - check: exists
    model: User
`,
	})

	a, err := Open(Options{ConfigPath: filepath.Join(dir, "weave.yaml"), LogOutput: io.Discard})
	require.NoError(t, err)
	defer a.Close()

	h, err := a.StreamHandler()
	require.NoError(t, err)

	resp, err := h.HandleValidate(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{{
		EventName:      "INSERT",
		EventSourceArn: "arn:aws:dynamodb:us-east-1:123456789012:table/posts/stream/x",
		Change: events.DynamoDBStreamRecord{
			SequenceNumber: "1",
			NewImage: map[string]events.DynamoDBAttributeValue{
				"user_id": events.NewNumberAttribute("5"),
			},
		},
	}}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
}

func TestStreamHandlerMissingRulesFile(t *testing.T) {
	dir := writeFiles(t, map[string]string{"weave.yaml": "stream:\n  - table: posts\n    rules: nope.yaml\n"})

	a, err := Open(Options{ConfigPath: filepath.Join(dir, "weave.yaml"), LogOutput: io.Discard})
	require.NoError(t, err)

	_, err = a.StreamHandler()
	assert.Error(t, err)
}
