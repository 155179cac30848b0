// Command handctl is an interactive console for a connected hand:
// arm/disarm, position and telemetry reads, target commands and raw
// object-dictionary access.
package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/wuji-technology/wujihand-go/wujihand"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "handctl:", err)
		os.Exit(1)
	}
}

func run() error {
	port := flag.String("port", "", "serial port path (default: USB scan)")
	serial := flag.String("serial", "", "device serial number filter for the USB scan")
	timeout := flag.Duration("timeout", wujihand.DefaultTimeout, "per-operation timeout")
	verbose := flag.Bool("v", false, "verbose session logging")
	flag.Parse()

	logger := golog.NewLogger("handctl")
	if *verbose {
		logger = golog.NewDevelopmentLogger("handctl")
	}

	hand, err := wujihand.Open(wujihand.Config{
		Port:         *port,
		SerialNumber: *serial,
		Timeout:      *timeout,
		Logger:       logger,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open hand")
	}
	defer hand.Close()

	ctx := context.Background()
	sn, err := hand.ReadProductSN(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read product serial number")
	}
	fmt.Printf("connected: %s (firmware %s)\n", sn, hand.HandVersion())

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hand> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return errors.Wrap(err, "failed to start console")
	}
	defer rl.Close()

	c := &console{hand: hand, out: rl.Stdout()}
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}
		if err := c.dispatch(ctx, args); err != nil {
			fmt.Fprintln(rl.Stderr(), "error:", err)
		}
	}
}

type console struct {
	hand *wujihand.Hand
	out  io.Writer
}

func (c *console) dispatch(ctx context.Context, args []string) error {
	switch args[0] {
	case "help":
		c.printHelp()
		return nil
	case "enable":
		return c.hand.WriteJointEnabled(ctx, true)
	case "disable":
		return c.hand.WriteJointEnabled(ctx, false)
	case "zero":
		return c.hand.WriteAllJointTargetPositions(ctx, 0)
	case "set":
		return c.set(ctx, args[1:])
	case "positions":
		grid, err := c.hand.ReadJointActualPositions(ctx)
		if err != nil {
			return err
		}
		c.printGrid(grid)
		return nil
	case "faults":
		return c.faults(ctx)
	case "status":
		return c.status(ctx)
	case "rawsdo":
		return c.rawSDO(ctx, args[1:])
	default:
		return errors.Errorf("unknown command %q (try help)", args[0])
	}
}

func (c *console) printHelp() {
	fmt.Fprint(c.out, `commands:
  enable                        arm all joints
  disable                       disarm all joints
  zero                          command all joints to 0 rad
  set <finger> <joint> <rad>    command one joint
  set all <rad>                 command every joint to the same angle
  positions                     read all joint angles
  faults                        read and decode joint error codes
  status                        device identity and health
  rawsdo read <f> <j> <index> <sub>
  rawsdo write <f> <j> <index> <sub> <hex>   (f = -1 for hand scope)
  quit
`)
}

func (c *console) set(ctx context.Context, args []string) error {
	if len(args) == 2 && args[0] == "all" {
		rad, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return errors.Wrap(err, "bad angle")
		}
		return c.hand.WriteAllJointTargetPositions(ctx, rad)
	}
	if len(args) != 3 {
		return errors.New("usage: set <finger> <joint> <rad> | set all <rad>")
	}
	f, err1 := strconv.Atoi(args[0])
	j, err2 := strconv.Atoi(args[1])
	rad, err3 := strconv.ParseFloat(args[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return errors.New("usage: set <finger> <joint> <rad>")
	}
	joint, err := c.hand.Joint(f, j)
	if err != nil {
		return err
	}
	return joint.WriteTargetPosition(ctx, rad)
}

func (c *console) faults(ctx context.Context) error {
	codes, err := c.hand.ReadJointErrorCodes(ctx)
	if err != nil {
		return err
	}
	clean := true
	for f := 0; f < wujihand.NumFingers; f++ {
		for j := 0; j < wujihand.NumJoints; j++ {
			if codes[f][j] == 0 {
				continue
			}
			clean = false
			fmt.Fprintf(c.out, "finger %d joint %d: 0x%08X %s\n",
				f, j, codes[f][j], wujihand.FaultString(codes[f][j]))
		}
	}
	if clean {
		fmt.Fprintln(c.out, "no faults")
	}
	return nil
}

func (c *console) status(ctx context.Context) error {
	sn, err := c.hand.ReadProductSN(ctx)
	if err != nil {
		return err
	}
	handed, err := c.hand.ReadHandedness(ctx)
	if err != nil {
		return err
	}
	temp, err := c.hand.ReadTemperature(ctx)
	if err != nil {
		return err
	}
	volts, err := c.hand.ReadInputVoltage(ctx)
	if err != nil {
		return err
	}
	side := "left"
	if handed == 1 {
		side = "right"
	}
	fmt.Fprintf(c.out, "serial:      %s\n", sn)
	fmt.Fprintf(c.out, "firmware:    %s\n", c.hand.HandVersion())
	if v := c.hand.FullSystemVersion(); v != (wujihand.FirmwareVersion{}) {
		fmt.Fprintf(c.out, "full system: %s\n", v)
	}
	fmt.Fprintf(c.out, "handedness:  %s\n", side)
	fmt.Fprintf(c.out, "temperature: %.1f C\n", temp)
	fmt.Fprintf(c.out, "voltage:     %.2f V\n", volts)
	return nil
}

func (c *console) rawSDO(ctx context.Context, args []string) error {
	if len(args) < 5 {
		return errors.New("usage: rawsdo read|write <finger> <joint> <index> <sub> [hex]")
	}
	f, err1 := strconv.Atoi(args[1])
	j, err2 := strconv.Atoi(args[2])
	index, err3 := strconv.ParseUint(strings.TrimPrefix(args[3], "0x"), 16, 16)
	sub, err4 := strconv.ParseUint(args[4], 10, 8)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return errors.New("bad rawsdo arguments")
	}

	switch args[0] {
	case "read":
		data, err := c.hand.RawSDORead(ctx, f, j, uint16(index), byte(sub))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "% X", data)
		switch len(data) {
		case 1:
			fmt.Fprintf(c.out, "  (u8 %d)", data[0])
		case 2:
			fmt.Fprintf(c.out, "  (u16 %d)", binary.LittleEndian.Uint16(data))
		case 4:
			fmt.Fprintf(c.out, "  (u32 %d)", binary.LittleEndian.Uint32(data))
		}
		fmt.Fprintln(c.out)
		return nil
	case "write":
		if len(args) != 6 {
			return errors.New("usage: rawsdo write <finger> <joint> <index> <sub> <hex>")
		}
		data, err := hex.DecodeString(strings.ReplaceAll(args[5], " ", ""))
		if err != nil {
			return errors.Wrap(err, "bad hex payload")
		}
		return c.hand.RawSDOWrite(ctx, f, j, uint16(index), byte(sub), data)
	default:
		return errors.Errorf("unknown rawsdo verb %q", args[0])
	}
}

func (c *console) printGrid(grid wujihand.JointGrid) {
	for f := 0; f < wujihand.NumFingers; f++ {
		fmt.Fprintf(c.out, "finger %d:", f)
		for j := 0; j < wujihand.NumJoints; j++ {
			fmt.Fprintf(c.out, " %+.4f", grid[f][j])
		}
		fmt.Fprintln(c.out)
	}
}
