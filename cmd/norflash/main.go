package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bigbag/norflash/internal/bridge"
	"github.com/bigbag/norflash/internal/detect"
	"github.com/bigbag/norflash/internal/flasher"
	"github.com/bigbag/norflash/internal/nor"
	"github.com/bigbag/norflash/internal/protocol"
	"github.com/bigbag/norflash/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	adapterFlag      string
	portFlag         string
	serialFlag       string
	baudFlag         int
	bitrateFlag      int
	spiModeFlag      int
	lsbFirstFlag     bool
	ssActiveHighFlag bool
	pollIntervalFlag time.Duration
	busyTimeoutFlag  time.Duration
	settleFlag       time.Duration
	verboseFlag      bool
)

var log = logrus.New()

func main() {
	rootCmd := &cobra.Command{
		Use:   "norflash",
		Short: "Program and verify W25Q64 serial NOR flash",
		Long: `norflash programs, verifies and reads back a W25Q64FW serial NOR flash
through a USB SPI bridge: a serial bridge running the norflash firmware, an
FTDI FT232H, or a simulated chip for dry runs.

Programming erases the 64 KiB blocks it touches and writes 256-byte pages.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verboseFlag {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&adapterFlag, "adapter", "a", string(detect.KindSerial), "Bridge adapter: serial, ftdi or sim")
	pf.StringVarP(&portFlag, "port", "p", "", "Serial port of the bridge (auto-detect if not specified)")
	pf.StringVarP(&serialFlag, "serial", "s", "", "Serial number of the bridge")
	pf.IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate of the serial bridge link")
	pf.IntVar(&bitrateFlag, "bitrate", bridge.DefaultBitrateKHz, "SPI bitrate in kHz")
	pf.IntVar(&spiModeFlag, "spi-mode", bridge.DefaultMode, "SPI mode (0-3)")
	pf.BoolVar(&lsbFirstFlag, "lsb-first", false, "Shift bytes LSB first")
	pf.BoolVar(&ssActiveHighFlag, "ss-active-high", false, "Drive slave select active high")
	pf.DurationVar(&pollIntervalFlag, "poll-interval", nor.DefaultPollInterval, "Interval between busy polls")
	pf.DurationVar(&busyTimeoutFlag, "busy-timeout", 0, "Give up waiting for a busy chip after this long (0 waits forever)")
	pf.DurationVar(&settleFlag, "settle", flasher.DefaultSettleDelay, "Wait after powering the target")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "Trace bridge and flash commands")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show adapter and flash chip info",
		RunE:  runInfo,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("norflash %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List serial ports and bridge adapters",
		RunE:  runList,
	}

	rootCmd.AddCommand(infoCmd, versionCmd, listCmd,
		newEraseCmd(), newProgramCmd(), newVerifyCmd(), newReadCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func transportConfig() bridge.SPIConfig {
	cfg := bridge.SPIConfig{
		Mode:        spiModeFlag,
		BitrateKHz:  bitrateFlag,
		BitOrder:    bridge.MSBFirst,
		SSActiveLow: !ssActiveHighFlag,
	}
	if lsbFirstFlag {
		cfg.BitOrder = bridge.LSBFirst
	}
	return cfg
}

// openSession finds the adapter selected by the flags and opens a session
// on the chip behind it.
func openSession(opts ...flasher.Option) (*flasher.Session, error) {
	kind, err := detect.ParseKind(adapterFlag)
	if err != nil {
		return nil, err
	}
	cfg := transportConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := detect.New(baudFlag, log)
	fmt.Printf("Connecting (%s adapter, %s)...\n", kind, cfg)

	opts = append([]flasher.Option{
		flasher.WithLogger(log),
		flasher.WithTransport(cfg),
		flasher.WithPollInterval(pollIntervalFlag),
		flasher.WithBusyTimeout(busyTimeoutFlag),
		flasher.WithSettleDelay(settleFlag),
	}, opts...)

	s, err := flasher.Open(d.Opener(kind, portFlag, serialFlag), opts...)
	if err != nil {
		var dnf *flasher.DeviceNotFoundError
		if errors.As(err, &dnf) && errors.Is(err, bridge.ErrNotFound) {
			return nil, fmt.Errorf("HW init failed: %w", err)
		}
		return nil, err
	}
	fmt.Printf("Connected! Flash ID: % X\n", s.ID())
	return s, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.Status()
	if err != nil {
		return err
	}
	fmt.Printf("  Chip:     W25Q64FW\n")
	fmt.Printf("  ID:       % X\n", s.ID())
	fmt.Printf("  Geometry: %s\n", s.Geometry())
	fmt.Printf("  Status:   %s\n", st)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
	} else {
		fmt.Println("Available serial ports:")
		for _, p := range ports {
			fmt.Printf("  %s\n", p)
		}
	}

	fmt.Println("\nScanning for bridge adapters...")
	adapters, err := detect.New(baudFlag, log).ListAdapters()
	if err != nil {
		return err
	}
	if len(adapters) == 0 {
		fmt.Println("No bridge adapters found")
		return nil
	}
	fmt.Printf("Found %d adapter(s):\n", len(adapters))
	for _, a := range adapters {
		fmt.Printf("  %s\n", a)
	}
	return nil
}
