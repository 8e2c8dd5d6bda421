// Package console implements the operator command line.
//
// On a terminal the console uses go-prompt with command completion and
// history; otherwise (a pipe, a service manager) it reads plain lines from
// stdin. Both paths go through Execute.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/logging"
	"github.com/xtxerr/seisd/internal/manager"
	"github.com/xtxerr/seisd/internal/storage/parquet"
	"github.com/xtxerr/seisd/internal/storage/types"
)

var log = logging.Component("console")

// Controller is the part of the manager the console drives.
type Controller interface {
	Status() manager.Status
	Timebase() types.Timebase
	OpenLink() error
	CloseLink() error
	OpenServer() error
	CloseServer() error
	ResetStats()
	Export(firstHour, lastHour int32, path string) (*parquet.ExportResult, error)
}

type command struct {
	names []string
	usage string
	help  string
	run   func(c *Console, args []string) bool
}

// Console dispatches operator commands.
type Console struct {
	ctl      Controller
	out      io.Writer
	commands []command
	byName   map[string]*command
	history  []string

	mu    sync.Mutex
	fd    int
	saved *term.State
}

// New creates a console writing to out.
func New(ctl Controller, out io.Writer) *Console {
	c := &Console{ctl: ctl, out: out, byName: make(map[string]*command)}
	c.commands = []command{
		{names: []string{"help"}, help: "show help", run: (*Console).cmdHelp},
		{names: []string{"exit"}, help: "close seisd", run: func(*Console, []string) bool { return true }},
		{names: []string{"info"}, help: "print status and other technical info", run: (*Console).cmdInfo},
		{names: []string{"openport", "port"}, help: "try to open serial port", run: (*Console).cmdOpenPort},
		{names: []string{"closeport", "close"}, help: "close serial port", run: (*Console).cmdClosePort},
		{names: []string{"openserver", "server"}, help: "try to open TCP server", run: (*Console).cmdOpenServer},
		{names: []string{"closeserver"}, help: "close TCP server", run: (*Console).cmdCloseServer},
		{names: []string{"resetstats"}, help: "reset gap and drift statistics", run: (*Console).cmdResetStats},
		{
			names: []string{"export"},
			usage: "<first_hour> <last_hour> <file>",
			help:  "write hours to a Parquet file (hour id or RFC 3339 time)",
			run:   (*Console).cmdExport,
		},
	}
	for i := range c.commands {
		for _, n := range c.commands[i].names {
			c.byName[n] = &c.commands[i]
		}
	}
	return c
}

// Execute runs one command line and reports whether the operator asked to
// exit. Blank lines are ignored.
func (c *Console) Execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	c.history = append(c.history, line)

	cmd, ok := c.byName[fields[0]]
	if !ok {
		fmt.Fprintf(c.out, "Unknown command: %s\n", fields[0])
		return false
	}
	log.Debug("command", "name", fields[0])
	return cmd.run(c, fields[1:])
}

// Run reads commands from in until exit, EOF or ctx cancellation. A
// terminal gets the interactive prompt. Run returns nil after exit and
// io.EOF when the input ends first.
func (c *Console) Run(ctx context.Context, in *os.File) error {
	if term.IsTerminal(int(in.Fd())) {
		return c.runPrompt(ctx, in)
	}
	return c.runLines(ctx, in)
}

func (c *Console) runLines(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		errc <- err
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case line := <-lines:
			if c.Execute(line) {
				return nil
			}
		}
	}
}

func (c *Console) runPrompt(ctx context.Context, in *os.File) error {
	// prompt.Input leaves the terminal raw if the process exits mid-read.
	fd := int(in.Fd())
	state, err := term.GetState(fd)
	if err != nil {
		return errors.Wrap(err, "terminal state")
	}
	c.mu.Lock()
	c.fd, c.saved = fd, state
	c.mu.Unlock()
	defer c.Close()

	fmt.Fprintf(c.out, "seisd %s, type 'help' for commands\n", config.Version)

	for ctx.Err() == nil {
		line := prompt.Input("seisd> ", c.complete,
			prompt.OptionHistory(c.history),
			prompt.OptionPrefixTextColor(prompt.Cyan),
		)
		if c.Execute(line) {
			return nil
		}
	}
	return ctx.Err()
}

// Close restores the terminal if the interactive prompt changed it. It is
// safe to call from another goroutine while a prompt is open.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saved == nil {
		return nil
	}
	err := term.Restore(c.fd, c.saved)
	c.saved = nil
	return err
}

func (c *Console) complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(c.suggestions(), d.GetWordBeforeCursor(), true)
}

func (c *Console) suggestions() []prompt.Suggest {
	s := make([]prompt.Suggest, 0, len(c.byName))
	for _, cmd := range c.commands {
		for _, n := range cmd.names {
			s = append(s, prompt.Suggest{Text: n, Description: cmd.help})
		}
	}
	sort.Slice(s, func(i, j int) bool { return s[i].Text < s[j].Text })
	return s
}

// =============================================================================
// Commands
// =============================================================================

func (c *Console) cmdHelp([]string) bool {
	fmt.Fprintln(c.out, "\n====== Available commands =======")
	for _, cmd := range c.commands {
		name := strings.Join(cmd.names, "|")
		if cmd.usage != "" {
			name += " " + cmd.usage
		}
		fmt.Fprintf(c.out, "%s - %s\n", name, cmd.help)
	}
	fmt.Fprintln(c.out)
	return false
}

func (c *Console) cmdInfo([]string) bool {
	st := c.ctl.Status()
	w := c.out

	fmt.Fprintf(w, "\n========= seisd v%s ===========\n", st.Version)
	fmt.Fprintf(w, "sample rate: %d sps\n", st.SampleRate)
	fmt.Fprintf(w, "uptime: %s\n", st.Uptime().Truncate(time.Second))
	fmt.Fprintf(w, "serial port: %s\n", st.Link.Device)
	fmt.Fprintf(w, "server address: %s\n", st.Server.Address)
	fmt.Fprintf(w, "\nserial port: %s (%s)\n", st.LinkState.Oper, st.LinkState.Health)
	if st.LinkState.LastError != "" {
		fmt.Fprintf(w, "  last error: %s\n", st.LinkState.LastError)
	}
	fmt.Fprintf(w, "server: %s (%s)\n", st.ServerState.Oper, st.ServerState.Health)
	fmt.Fprintf(w, "\nloaded datahours: %d (%d unsaved)\n", st.Store.Resident, st.Store.Dirty)
	fmt.Fprintf(w, "last log id: %d\n", st.Store.LastLogID)
	fmt.Fprintf(w, "maximum queue length: %d / %d\n", st.Ingestion.QueueMaxDepth, st.Ingestion.QueueCapacity)
	fmt.Fprintf(w, "queue overflows: %d\n", st.Ingestion.Overflows)
	fmt.Fprintf(w, "gaps: %d\n", st.Ingestion.Gaps)
	fmt.Fprintf(w, "sensor gaps: %d\n", st.Controller.LinkGaps)
	fmt.Fprintf(w, "calibrating: %t\n", st.Controller.Calibrating)
	fmt.Fprintf(w, "current serial port delay: %.3fms\n", st.Controller.LastAvgUs/1000)
	fmt.Fprintf(w, "highest serial port delay: %.3fms\n", st.Controller.Drift.Max/1000)
	fmt.Fprintf(w, "lowest serial port delay: %.3fms\n", st.Controller.Drift.Min/1000)
	fmt.Fprintf(w, "median / p99 delay: %.3fms / %.3fms\n", st.Controller.Drift.P50/1000, st.Controller.Drift.P99/1000)
	fmt.Fprintf(w, "\nactive connections: %d\n", st.Server.Clients)

	if len(st.Sessions) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"id", "remote", "realtime", "last sent", "pending", "sent", "violations"})
		table.SetBorder(false)
		for _, s := range st.Sessions {
			table.Append([]string{
				strconv.FormatUint(s.ID, 10),
				s.RemoteAddr,
				strconv.FormatBool(s.Realtime),
				strconv.FormatInt(s.LastSent, 10),
				strconv.Itoa(s.PendingRequests),
				strconv.FormatInt(s.SamplesSent, 10),
				strconv.FormatInt(s.Violations, 10),
			})
		}
		table.Render()
	}
	fmt.Fprintln(w, "================================")
	fmt.Fprintln(w)
	return false
}

func (c *Console) report(what string, err error) {
	switch {
	case err == nil:
		fmt.Fprintf(c.out, "%s\n", what)
	case errors.Is(err, errors.ErrAlreadyRunning):
		fmt.Fprintln(c.out, "already open")
	case errors.Is(err, errors.ErrNotRunning):
		fmt.Fprintln(c.out, "not open")
	default:
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}

func (c *Console) cmdOpenPort([]string) bool {
	c.report("serial port opened", c.ctl.OpenLink())
	return false
}

func (c *Console) cmdClosePort([]string) bool {
	c.report("serial port closed", c.ctl.CloseLink())
	return false
}

func (c *Console) cmdOpenServer([]string) bool {
	c.report("server opened", c.ctl.OpenServer())
	return false
}

func (c *Console) cmdCloseServer([]string) bool {
	c.report("server closed", c.ctl.CloseServer())
	return false
}

func (c *Console) cmdResetStats([]string) bool {
	c.ctl.ResetStats()
	fmt.Fprintln(c.out, "statistics reset")
	return false
}

func (c *Console) cmdExport(args []string) bool {
	if len(args) != 3 {
		fmt.Fprintln(c.out, "usage: export <first_hour> <last_hour> <file>")
		return false
	}

	tb := c.ctl.Timebase()
	first, err := parseHour(tb, args[0])
	if err != nil {
		fmt.Fprintf(c.out, "error: first_hour: %v\n", err)
		return false
	}
	last, err := parseHour(tb, args[1])
	if err != nil {
		fmt.Fprintf(c.out, "error: last_hour: %v\n", err)
		return false
	}

	res, err := c.ctl.Export(first, last, args[2])
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return false
	}
	fmt.Fprintf(c.out, "exported %d samples from %d hours to %s (%d bytes)\n",
		res.Rows, res.LastHour-res.FirstHour+1, res.Path, res.Bytes)
	return false
}

// parseHour accepts a raw hour id or an RFC 3339 time inside the hour.
func parseHour(tb types.Timebase, s string) (int32, error) {
	if id, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int32(id), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither an hour id nor an RFC 3339 time", s)
	}
	return tb.HourAt(t), nil
}
