// Interactive console: exercise sensor, frame codec and network by hand.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/lorasense/cmd/lorasense/subcmd"
	"github.com/temoto/lorasense/helpers/cli"
	"github.com/temoto/lorasense/internal/network"
	"github.com/temoto/lorasense/internal/state"
	"github.com/temoto/lorasense/internal/types"
)

const usage = `commands:
- sample         read sensor
- frame [T H]    build frame from values or fresh sample
- verify FRAME   check frame tag
- join           one join attempt
- send [TEXT]    one uplink attempt, TEXT or fresh frame
- stat           simulated network counters
- help
`

var Mod = subcmd.Mod{Name: "console", Usage: "interactive sensor/network console", Main: Main}

type command struct {
	name string
	f    func(ctx context.Context, args []string) error
}

type console struct {
	g        *state.Global
	out      io.Writer
	commands map[string]command
}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.CloseHardware() //nolint:errcheck

	c := newConsole(g, os.Stdout)
	return cli.MainLoop("lorasense", c.executor(ctx), c.completer())
}

func newConsole(g *state.Global, w io.Writer) *console {
	self := &console{g: g, out: w}
	self.commands = make(map[string]command)
	for _, c := range []command{
		{"help", self.cmdHelp},
		{"sample", self.cmdSample},
		{"frame", self.cmdFrame},
		{"verify", self.cmdVerify},
		{"join", self.cmdJoin},
		{"send", self.cmdSend},
		{"stat", self.cmdStat},
	} {
		self.commands[c.name] = c
	}
	return self
}

func (self *console) completer() func(d prompt.Document) []prompt.Suggest {
	names := make([]string, 0, len(self.commands))
	for name := range self.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	suggests := make([]prompt.Suggest, 0, len(names))
	for _, name := range names {
		suggests = append(suggests, prompt.Suggest{Text: name})
	}

	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func (self *console) executor(ctx context.Context) func(string) {
	return func(line string) {
		tbegin := time.Now()
		if err := self.exec(ctx, line); err != nil {
			self.g.Log.Errorf(errors.ErrorStack(err))
			return
		}
		self.g.Log.Debugf("duration=%v", time.Since(tbegin))
	}
}

func (self *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	c, ok := self.commands[fields[0]]
	if !ok {
		return errors.NotFoundf("command=%s, try help", fields[0])
	}
	return c.f(ctx, fields[1:])
}

func (self *console) printf(format string, args ...interface{}) {
	fmt.Fprintf(self.out, format, args...)
}

func (self *console) cmdHelp(ctx context.Context, args []string) error {
	self.printf("%s", usage)
	return nil
}

func (self *console) cmdSample(ctx context.Context, args []string) error {
	r, err := self.sample()
	if err != nil {
		return err
	}
	self.printf("%s\n", r.String())
	return nil
}

func (self *console) cmdFrame(ctx context.Context, args []string) error {
	f, err := self.makeFrame(args)
	if err != nil {
		return err
	}
	self.printf("%s\n", f)
	return nil
}

func (self *console) cmdVerify(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.NotValidf("usage: verify FRAME")
	}
	pipe, err := self.g.Pipeline()
	if err != nil {
		return err
	}
	r, err := pipe.Verify(args[0])
	if err != nil {
		return err
	}
	self.printf("ok %s\n", r.String())
	return nil
}

func (self *console) cmdJoin(ctx context.Context, args []string) error {
	net, err := self.g.Network(ctx)
	if err != nil {
		return err
	}
	if err = net.Join(ctx); err != nil {
		return errors.Annotatef(err, "code=%s", network.CodeOf(err))
	}
	self.printf("joined\n")
	return nil
}

func (self *console) cmdSend(ctx context.Context, args []string) error {
	var payload string
	if len(args) != 0 {
		payload = strings.Join(args, " ")
	} else {
		f, err := self.makeFrame(nil)
		if err != nil {
			return err
		}
		payload = string(f)
	}
	net, err := self.g.Network(ctx)
	if err != nil {
		return err
	}
	nc := self.g.Config.Node()
	if err = net.Send(ctx, nc.Port, []byte(payload), nc.Confirmed); err != nil {
		return errors.Annotatef(err, "code=%s", network.CodeOf(err))
	}
	self.printf("sent port=%d confirmed=%t payload=%s\n", nc.Port, nc.Confirmed, payload)
	return nil
}

func (self *console) cmdStat(ctx context.Context, args []string) error {
	net, err := self.g.Network(ctx)
	if err != nil {
		return err
	}
	sim, ok := net.(*network.Sim)
	if !ok {
		return errors.NotSupportedf("stat for network.driver=%s", self.g.Config.NetworkDriver())
	}
	st := sim.Stat()
	self.printf("joined=%t join_calls=%d send_calls=%d sent=%d\n", st.Joined, st.JoinCalls, st.SendCalls, len(st.Sent))
	return nil
}

func (self *console) sample() (types.Reading, error) {
	s, err := self.g.Sensor()
	if err != nil {
		return types.Reading{}, err
	}
	return s.Sample()
}

func (self *console) makeFrame(args []string) (string, error) {
	var r types.Reading
	switch len(args) {
	case 0:
		var err error
		if r, err = self.sample(); err != nil {
			return "", err
		}
	case 2:
		t, err := strconv.ParseFloat(args[0], 32)
		if err != nil {
			return "", errors.Annotate(err, "temperature")
		}
		h, err := strconv.ParseFloat(args[1], 32)
		if err != nil {
			return "", errors.Annotate(err, "humidity")
		}
		r = types.Reading{Temperature: float32(t), Humidity: float32(h)}
	default:
		return "", errors.NotValidf("usage: frame [T H]")
	}
	pipe, err := self.g.Pipeline()
	if err != nil {
		return "", err
	}
	f, err := pipe.Make(r)
	return string(f), err
}
