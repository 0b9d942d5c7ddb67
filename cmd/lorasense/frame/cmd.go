// Offline frame tools: build uplink frame from values, verify captured frame.
package frame

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/juju/errors"
	"github.com/temoto/lorasense/cmd/lorasense/subcmd"
	"github.com/temoto/lorasense/internal/state"
	"github.com/temoto/lorasense/internal/types"
)

var BuildMod = subcmd.Mod{Name: "frame", Usage: "TEMPERATURE HUMIDITY  print authenticated frame", Main: BuildMain}
var VerifyMod = subcmd.Mod{Name: "verify", Usage: "FRAME  check frame tag and print reading", Main: VerifyMain}

func BuildMain(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	return build(g, args, os.Stdout)
}

func VerifyMain(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	return verify(g, args, os.Stdout)
}

func build(g *state.Global, args []string, w io.Writer) error {
	if len(args) != 2 {
		return errors.NotValidf("usage: frame TEMPERATURE HUMIDITY, args=%q", args)
	}
	t, err := strconv.ParseFloat(args[0], 32)
	if err != nil {
		return errors.Annotate(err, "temperature")
	}
	h, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		return errors.Annotate(err, "humidity")
	}
	r := types.Reading{Temperature: float32(t), Humidity: float32(h)}
	if err = r.Validate(); err != nil {
		g.Log.Errorf("reading outside of sensor range: %v", err)
	}
	pipe, err := g.Pipeline()
	if err != nil {
		return err
	}
	f, err := pipe.Make(r)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, f)
	return err
}

func verify(g *state.Global, args []string, w io.Writer) error {
	if len(args) != 1 {
		return errors.NotValidf("usage: verify FRAME, args=%q", args)
	}
	pipe, err := g.Pipeline()
	if err != nil {
		return err
	}
	r, err := pipe.Verify(args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "ok temperature=%.1f humidity=%.1f\n", r.Temperature, r.Humidity)
	return err
}
