// feesim is a simple CLI for interacting with simulated flash images through
// the fee engine.
//
// Usage:
//
//	feesim <config> <image-file>              Open an existing image file
//	feesim new [opts] <config> <image-file>   Create a new image file
//
// Options for 'new' command:
//
//	-s, --size         Image size in bytes (default: highest cluster end address)
//	    --erase-rate    Injected erase-failure rate, 0..1 (default: 0)
//	    --write-rate    Injected write-failure rate, 0..1 (default: 0)
//	    --torn-rate     Injected torn-write rate, 0..1 (default: 0)
//	    --seed          Fault-injection PRNG seed (default: 1)
//
// Commands (in REPL):
//
//	write <block> <hex-bytes>           Write a block's full payload
//	read <block> [offset] [length]      Read bytes from a block
//	invalidate <block>                  Invalidate a block
//	erase-immediate <block>             Make room for an immediate block's next write
//	pump [n]                            Call MainFunction n times (default 1)
//	status                              Show engine status and last result
//	info [group]                        Show cluster-group runtime info
//	swap <group>                        Force a swap on the group's next write
//	help                                Show this help
//	exit / quit / q                     Exit
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/peterh/liner"

	"github.com/flagchip/feerom/pkg/fee"
	"github.com/flagchip/feerom/pkg/feeconfig"
	"github.com/flagchip/feerom/pkg/flashio"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return errors.New("missing command or image file path")
	}

	if os.Args[1] == "new" {
		return runNew(os.Args[2:])
	}

	return runOpen(os.Args[1:])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  feesim <config> <image-file>              Open an existing image file\n")
	fmt.Fprintf(os.Stderr, "  feesim new [opts] <config> <image-file>   Create a new image file\n")
	fmt.Fprintf(os.Stderr, "\nRun 'feesim new --help' for options when creating a new image.\n")
}

func imageSize(cfg fee.Config) uint32 {
	var size uint32
	for _, g := range cfg.Groups {
		for _, cl := range g.Clusters {
			if end := cl.StartAddr + cl.Length; end > size {
				size = end
			}
		}
	}
	return size
}

func runNew(args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)

	size := fs.Uint32P("size", "s", 0, "image size in bytes (default: highest cluster end address)")
	eraseRate := fs.Float64("erase-rate", 0, "injected erase-failure rate, 0..1")
	writeRate := fs.Float64("write-rate", 0, "injected write-failure rate, 0..1")
	tornRate := fs.Float64("torn-rate", 0, "injected torn-write rate, 0..1")
	seed := fs.Uint64("seed", 1, "fault-injection PRNG seed")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: feesim new [options] <config> <image-file>\n\n")
		fmt.Fprintf(os.Stderr, "Create a new simulated flash image and format cluster 0.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return errors.New("missing config and image file path")
	}

	configPath, imagePath := fs.Arg(0), fs.Arg(1)

	if _, err := os.Stat(imagePath); err == nil {
		return fmt.Errorf("image file already exists: %s (use 'feesim %s %s' to open it)", imagePath, configPath, imagePath)
	}

	cfg, err := feeconfig.Load(configPath)
	if err != nil {
		return err
	}

	sz := *size
	if sz == 0 {
		sz = imageSize(cfg)
	}

	mem, err := flashio.OpenMemDriverFile(imagePath, sz)
	if err != nil {
		return fmt.Errorf("creating image: %w", err)
	}

	drv := wireFaultInjection(mem, *eraseRate, *writeRate, *tornRate, *seed)

	eng, err := fee.New(cfg, drv, fee.Options{})
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	fmt.Printf("Created image %s (%d bytes), %d cluster group(s), %d block(s)\n",
		imagePath, sz, len(cfg.Groups), len(cfg.Blocks))

	repl := &REPL{eng: eng, mem: mem, cfg: cfg}
	repl.init()
	return repl.Run()
}

func runOpen(args []string) error {
	fs := flag.NewFlagSet("open", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: feesim <config> <image-file>\n\n")
		fmt.Fprintf(os.Stderr, "Open an existing simulated flash image and recover its state.\n")
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return errors.New("missing config and image file path")
	}

	configPath, imagePath := fs.Arg(0), fs.Arg(1)

	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		return fmt.Errorf("image file does not exist: %s (use 'feesim new %s %s' to create it)", imagePath, configPath, imagePath)
	}

	cfg, err := feeconfig.Load(configPath)
	if err != nil {
		return err
	}

	sz := imageSize(cfg)

	mem, err := flashio.OpenMemDriverFile(imagePath, sz)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}

	eng, err := fee.New(cfg, mem, fee.Options{})
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	fmt.Printf("Opened image %s (%d bytes), %d cluster group(s), %d block(s)\n",
		imagePath, sz, len(cfg.Groups), len(cfg.Blocks))

	repl := &REPL{eng: eng, mem: mem, cfg: cfg}
	repl.init()
	return repl.Run()
}

// wireFaultInjection wraps mem in a [flashio.FaultDriver] only when at least
// one injection rate is non-zero, so the common case pays no overhead.
func wireFaultInjection(mem *flashio.MemDriver, eraseRate, writeRate, tornRate float64, seed uint64) fee.Driver {
	if eraseRate == 0 && writeRate == 0 && tornRate == 0 {
		return mem
	}
	return flashio.NewFaultDriver(mem, flashio.FaultConfig{
		EraseFailRate: eraseRate,
		WriteFailRate: writeRate,
		TornWriteRate: tornRate,
	}, seed)
}

// REPL is the interactive command loop.
type REPL struct {
	eng   *fee.Engine
	mem   *flashio.MemDriver
	cfg   fee.Config
	liner *liner.State
}

// init runs the engine's recovery scan and pumps MainFunction until it
// completes, so the REPL always starts from an idle engine.
func (r *REPL) init() {
	if err := r.eng.Init(); err != nil {
		fmt.Printf("Init: %v\n", err)
		return
	}
	for r.eng.GetStatus() != fee.StatusIdle {
		r.eng.MainFunction()
	}
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".feesim_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("feesim - fee engine CLI")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("feesim> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil

		case "help", "?":
			r.printHelp()

		case "write", "put":
			r.cmdWrite(args)

		case "read", "get":
			r.cmdRead(args)

		case "invalidate", "inval":
			r.cmdInvalidate(args)

		case "erase-immediate", "erase":
			r.cmdEraseImmediate(args)

		case "pump", "tick":
			r.cmdPump(args)

		case "status":
			r.cmdStatus()

		case "info":
			r.cmdInfo(args)

		case "swap":
			r.cmdSwap(args)

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

// completer provides tab completion for commands.
func (r *REPL) completer(line string) []string {
	commands := []string{
		"write", "put", "read", "get",
		"invalidate", "inval", "erase-immediate", "erase",
		"pump", "tick", "status", "info", "swap",
		"clear", "cls", "help", "exit", "quit", "q",
	}

	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  write <block> <hex-bytes>        Write a block's full payload")
	fmt.Println("  read <block> [offset] [length]   Read bytes from a block")
	fmt.Println("  invalidate <block>                Invalidate a block")
	fmt.Println("  erase-immediate <block>           Make room for an immediate block's next write")
	fmt.Println("  pump [n]                          Call MainFunction n times (default 1)")
	fmt.Println("  status                            Show engine status and last result")
	fmt.Println("  info [group]                      Show cluster-group runtime info")
	fmt.Println("  swap <group>                      Force a swap on the group's next write")
	fmt.Println("  help                              Show this help")
	fmt.Println("  exit / quit / q                   Exit")
}

// pumpToIdle drives MainFunction until the engine leaves BUSY/BUSY_INTERNAL.
// It prints nothing; callers report the request's outcome.
func (r *REPL) pumpToIdle() {
	for r.eng.GetStatus() == fee.StatusBusy || r.eng.GetStatus() == fee.StatusBusyInternal {
		r.eng.MainFunction()
	}
}

// blockSize looks up a block's configured payload size from the catalog
// loaded at startup; [fee.Config]'s own lookup is unexported.
func (r *REPL) blockSize(block uint16) (uint16, bool) {
	for _, b := range r.cfg.Blocks {
		if b.Number == block {
			return b.Size, true
		}
	}
	return 0, false
}

func (r *REPL) parseBlock(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q: %w", s, err)
	}
	return uint16(n), nil
}

func (r *REPL) cmdWrite(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: write <block> <hex-bytes>")
		return
	}

	block, err := r.parseBlock(args[0])
	if err != nil {
		fmt.Println(err)
		return
	}

	data, err := hex.DecodeString(args[1])
	if err != nil {
		fmt.Printf("Error parsing payload hex: %v\n", err)
		return
	}

	if err := r.eng.Write(block, data); err != nil {
		fmt.Printf("Write rejected: %v\n", err)
		return
	}

	r.pumpToIdle()
	fmt.Printf("write block %d: %s\n", block, r.eng.GetJobResult())
}

func (r *REPL) cmdRead(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: read <block> [offset] [length]")
		return
	}

	block, err := r.parseBlock(args[0])
	if err != nil {
		fmt.Println(err)
		return
	}

	blockSize, ok := r.blockSize(block)
	if !ok {
		fmt.Printf("unknown block %d\n", block)
		return
	}

	offset := uint16(0)
	if len(args) >= 2 {
		n, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			fmt.Printf("invalid offset %q: %v\n", args[1], err)
			return
		}
		offset = uint16(n)
	}

	length := blockSize - offset
	if len(args) >= 3 {
		n, err := strconv.ParseUint(args[2], 10, 16)
		if err != nil {
			fmt.Printf("invalid length %q: %v\n", args[2], err)
			return
		}
		length = uint16(n)
	}

	buf := make([]byte, length)
	if err := r.eng.Read(block, offset, buf); err != nil {
		fmt.Printf("Read rejected: %v\n", err)
		return
	}

	r.pumpToIdle()
	result := r.eng.GetJobResult()
	if result == fee.JobResultOK {
		fmt.Printf("read block %d: %s\n", block, hex.EncodeToString(buf))
	} else {
		fmt.Printf("read block %d: %s\n", block, result)
	}
}

func (r *REPL) cmdInvalidate(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: invalidate <block>")
		return
	}
	block, err := r.parseBlock(args[0])
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := r.eng.InvalidateBlock(block); err != nil {
		fmt.Printf("InvalidateBlock rejected: %v\n", err)
		return
	}
	r.pumpToIdle()
	fmt.Printf("invalidate block %d: %s\n", block, r.eng.GetJobResult())
}

func (r *REPL) cmdEraseImmediate(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: erase-immediate <block>")
		return
	}
	block, err := r.parseBlock(args[0])
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := r.eng.EraseImmediateBlock(block); err != nil {
		fmt.Printf("EraseImmediateBlock rejected: %v\n", err)
		return
	}
	r.pumpToIdle()
	fmt.Printf("erase-immediate block %d: %s\n", block, r.eng.GetJobResult())
}

func (r *REPL) cmdPump(args []string) {
	n := 1
	if len(args) >= 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			fmt.Println("Usage: pump [n]")
			return
		}
		n = v
	}
	for range n {
		r.eng.MainFunction()
	}
	fmt.Printf("status=%s result=%s\n", r.eng.GetStatus(), r.eng.GetJobResult())
}

func (r *REPL) cmdStatus() {
	fmt.Printf("status: %s\n", r.eng.GetStatus())
	fmt.Printf("last result: %s\n", r.eng.GetJobResult())
	fmt.Printf("format version: %d\n", r.eng.Version())
}

func (r *REPL) cmdInfo(args []string) {
	if len(args) >= 1 {
		group, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Printf("invalid group %q: %v\n", args[0], err)
			return
		}
		r.printGroupInfo(group)
		return
	}
	for g := range r.cfg.Groups {
		r.printGroupInfo(g)
	}
}

func (r *REPL) printGroupInfo(group int) {
	info, err := r.eng.GetRuntimeInfo(group)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("group %d: active_cluster=%d (id=%d) header_cursor=%d data_cursor=%d bytes_free=%d\n",
		group, info.ActiveClusterIndex, info.ActiveClusterID, info.HeaderCursor, info.DataCursor, info.BytesFree)
}

func (r *REPL) cmdSwap(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: swap <group>")
		return
	}
	group, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("invalid group %q: %v\n", args[0], err)
		return
	}
	if err := r.eng.ForceSwapOnNextWrite(group); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("swap latched for group %d: will fire on its next write/erase-immediate\n", group)
}
