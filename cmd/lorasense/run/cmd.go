// Main mode of operation: join, then sample and uplink forever.
package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/lorasense/cmd/lorasense/subcmd"
	"github.com/temoto/lorasense/internal/state"
)

var Mod = subcmd.Mod{Name: "run", Usage: "join network and uplink readings every tx_interval", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigs:
			g.Log.Infof("signal=%v, stopping", s)
			g.Stop()
		case <-g.Alive.StopChan():
		}
		cancel()
	}()

	n, err := g.NewNode(ctx)
	if err != nil {
		return errors.Annotate(err, "node init")
	}
	g.Log.SetErrorFunc(n.CountError)

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Debugf("node init complete")

	n.Loop(ctx)
	g.Log.Infof("node stopped state=%s stat=%+v", n.State().String(), n.Stat())
	if !g.StopWait(5 * time.Second) {
		g.Log.Errorf("stop timeout")
	}
	return g.CloseHardware()
}
