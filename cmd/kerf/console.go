package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/shlex"

	"kerf/api"
	"kerf/driver"
)

// console is the interactive controller prompt on stdin
type console struct {
	drv  driver.Driver
	jobs *api.JobTracker
	in   io.Reader
	out  io.Writer
	last string // id of the most recent job
}

func newConsole(drv driver.Driver, jobs *api.JobTracker, in io.Reader, out io.Writer) *console {
	return &console{drv: drv, jobs: jobs, in: in, out: out}
}

// run reads commands until quit, end of input or ctx is done
func (c *console) run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	fmt.Fprintln(c.out, "Enter commands (type 'help' for available commands, 'quit' to exit):")
	for {
		fmt.Fprint(c.out, "> ")

		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("error reading input: %w", err)
				}
				return nil
			}
			line = l
		}

		args, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" || args[0] == "q" {
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}
		if err := c.exec(ctx, args); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

func (c *console) exec(ctx context.Context, args []string) error {
	switch args[0] {
	case "help":
		c.printHelp()

	case "connect":
		if err := c.drv.Connect(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Connected")

	case "disconnect":
		return c.drv.Disconnect()

	case "status", "?":
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		st, err := c.drv.Status(sctx)
		if err != nil {
			return err
		}
		c.printStatus(st)

	case "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: send <line>")
		}
		ack, err := c.drv.SendLine(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		for _, l := range ack.Lines() {
			fmt.Fprintln(c.out, l)
		}
		switch a := ack.(type) {
		case driver.Ok:
			fmt.Fprintln(c.out, "ok")
		case driver.Rejected:
			fmt.Fprintln(c.out, a.Message)
		}

	case "stream":
		if len(args) != 2 {
			return fmt.Errorf("usage: stream <file>")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		job, err := c.jobs.Start(string(data), driver.ModeAck)
		if err != nil {
			return err
		}
		c.last = job.ID
		fmt.Fprintf(c.out, "Job %s started\n", job.ID)

	case "job":
		id := c.last
		if len(args) > 1 {
			id = args[1]
		}
		job, ok := c.jobs.Get(id)
		if !ok {
			return fmt.Errorf("no job %q", id)
		}
		fmt.Fprintf(c.out, "%s %s %d/%d %s\n", job.ID, job.State, job.Progress.Sent, job.Progress.Total, job.Error)

	case "abort":
		return c.drv.Abort()

	case "pause":
		return c.drv.Pause()

	case "resume":
		return c.drv.Resume()

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for available commands)\n", args[0])
	}
	return nil
}

func (c *console) printStatus(st driver.Status) {
	fmt.Fprintf(c.out, "State: %s\n", st.State)
	if st.MPos != nil {
		fmt.Fprintf(c.out, "MPos:  %.3f,%.3f,%.3f\n", st.MPos.X, st.MPos.Y, st.MPos.Z)
	}
	if st.WPos != nil {
		fmt.Fprintf(c.out, "WPos:  %.3f,%.3f,%.3f\n", st.WPos.X, st.WPos.Y, st.WPos.Z)
	}
	fmt.Fprintf(c.out, "Feed:  %g  Power: %g\n", st.Feed, st.Power)
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  help           - Show this help message")
	fmt.Fprintln(c.out, "  connect        - Open the controller connection")
	fmt.Fprintln(c.out, "  disconnect     - Close the controller connection")
	fmt.Fprintln(c.out, "  status         - Query a status report")
	fmt.Fprintln(c.out, "  send <line>    - Send one command and print its reply")
	fmt.Fprintln(c.out, "  stream <file>  - Stream a G-code file in the background")
	fmt.Fprintln(c.out, "  job [id]       - Show job progress")
	fmt.Fprintln(c.out, "  pause/resume   - Feed hold and cycle start")
	fmt.Fprintln(c.out, "  abort          - Stop the job and soft-reset")
	fmt.Fprintln(c.out, "  quit/exit/q    - Exit the program")
	fmt.Fprintln(c.out)
}
