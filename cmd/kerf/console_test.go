package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kerf/api"
	"kerf/driver"
)

func runConsole(t *testing.T, drv driver.Driver, jobs *api.JobTracker, input string) string {
	t.Helper()
	var out bytes.Buffer
	c := newConsole(drv, jobs, strings.NewReader(input), &out)
	require.NoError(t, c.run(context.Background()))
	jobs.Wait()
	return out.String()
}

func TestConsoleSession(t *testing.T) {
	v := driver.NewVirtual(driver.WithDwellScale(0))
	jobs := api.NewJobTracker(v, slog.New(slog.DiscardHandler))

	out := runConsole(t, v, jobs, strings.Join([]string{
		"status",
		"connect",
		`send "G0 X5 Y6"`,
		"send G2 X1",
		"status",
		"bogus",
		"quit",
		"status",
	}, "\n"))

	assert.Contains(t, out, "Error: "+driver.ErrNotConnected.Error())
	assert.Contains(t, out, "Connected")
	assert.Contains(t, out, "ok\n")
	assert.Contains(t, out, "error:20")
	assert.Contains(t, out, "State: ALARM")
	assert.Contains(t, out, "WPos:  5.000,6.000,0.000")
	assert.Contains(t, out, "Unknown command: bogus")
	assert.Contains(t, out, "Goodbye!")
	assert.Equal(t, 1, strings.Count(out, "State: ALARM"))
}

func TestConsoleStream(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.gcode")
	require.NoError(t, os.WriteFile(path, []byte("G21\nG1 X1 F100\nG1 X2\nM5\n"), 0o644))

	v := driver.NewVirtual(driver.WithDwellScale(0))
	jobs := api.NewJobTracker(v, slog.New(slog.DiscardHandler))
	require.NoError(t, v.Connect(context.Background()))

	out := runConsole(t, v, jobs, "stream "+path+"\nstream\n")
	assert.Contains(t, out, "started")
	assert.Contains(t, out, "usage: stream <file>")

	var out2 bytes.Buffer
	c := newConsole(v, jobs, strings.NewReader("job\n"), &out2)
	c.last = strings.Fields(strings.SplitN(out, "Job ", 2)[1])[0]
	require.NoError(t, c.run(context.Background()))
	assert.Contains(t, out2.String(), "done 4/4")
}

func TestConsoleEndOfInput(t *testing.T) {
	v := driver.NewVirtual()
	jobs := api.NewJobTracker(v, slog.New(slog.DiscardHandler))
	out := runConsole(t, v, jobs, "")
	assert.NotContains(t, out, "Goodbye!")
}
