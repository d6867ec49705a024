package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"zappem.net/pub/debug/xxd"

	"github.com/bigbag/norflash/internal/flasher"
	"github.com/bigbag/norflash/internal/image"
	"github.com/bigbag/norflash/internal/nor"
)

var (
	addrFlag       string
	lengthFlag     int
	outputFlag     string
	hexdumpFlag    bool
	eraseChipFlag  bool
	verifyFlag     bool
	trackEraseFlag bool
)

var errVerifyFailed = errors.New("verification failed")

func newEraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "erase",
		Short: "Erase the whole chip",
		Args:  cobra.NoArgs,
		RunE:  runErase,
	}
}

func newProgramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "program <image>",
		Short: "Write an image to flash",
		Long: `Write a raw binary or Intel HEX image to flash.

The image is written at --addr, or at the address found in an Intel HEX file,
or at 0. Every 64 KiB block the image starts in or crosses into is erased
before its pages are programmed.`,
		Args: cobra.ExactArgs(1),
		RunE: runProgram,
	}
	cmd.Flags().StringVar(&addrFlag, "addr", "0", "Flash address (decimal or 0x hex)")
	cmd.Flags().BoolVar(&eraseChipFlag, "erase-chip", false, "Erase the whole chip first")
	cmd.Flags().BoolVar(&verifyFlag, "verify", true, "Verify after programming")
	cmd.Flags().BoolVar(&trackEraseFlag, "track-erase", false, "Erase each block at most once per session")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <image>",
		Short: "Compare flash content with an image",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
	cmd.Flags().StringVar(&addrFlag, "addr", "0", "Flash address (decimal or 0x hex)")
	return cmd
}

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read flash content to a file",
		Long: `Read flash content into a binary snapshot. Without --output the
snapshot is named after the current time (20060102_150405.bin).`,
		Args: cobra.NoArgs,
		RunE: runRead,
	}
	cmd.Flags().StringVar(&addrFlag, "addr", "0", "Flash address (decimal or 0x hex)")
	cmd.Flags().IntVar(&lengthFlag, "length", 0, "Bytes to read (default: to the end of the chip)")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output file (.bin, or .hex for Intel HEX)")
	cmd.Flags().BoolVar(&hexdumpFlag, "hexdump", false, "Print a hex dump instead of writing a file")
	return cmd
}

func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}

// progress drives one progress bar per phase.
type progress struct {
	phase string
	bar   *progressbar.ProgressBar
}

func (p *progress) callback(pr flasher.Progress) {
	if pr.Phase != p.phase {
		p.finish()
		p.phase = pr.Phase
		p.bar = progressbar.NewOptions(pr.Total,
			progressbar.OptionSetDescription(phaseTitle(pr.Phase)),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	p.bar.Set(pr.Current)
}

func (p *progress) finish() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
	p.phase = ""
}

func phaseTitle(phase string) string {
	switch phase {
	case flasher.PhaseErasing:
		return "Erasing"
	case flasher.PhaseProgramming:
		return "Programming"
	case flasher.PhaseReading:
		return "Reading"
	case flasher.PhaseVerifying:
		return "Verifying"
	}
	return phase
}

func elapsed(start time.Time) string {
	return fmt.Sprintf("%.2f s", time.Since(start).Seconds())
}

func runErase(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Println("Erasing chip...")
	start := time.Now()
	if err := s.EraseAll(); err != nil {
		return err
	}
	fmt.Printf("Done! (%s)\n", elapsed(start))
	return nil
}

// imageAddr picks the target address: the flag when given, then the
// address stored in the image.
func imageAddr(cmd *cobra.Command, img *image.Image) (uint32, error) {
	if cmd.Flags().Changed("addr") || !img.HasAddr {
		return parseAddr(addrFlag)
	}
	return img.Addr, nil
}

// loadImage reads the image and checks that it fits at its target address.
// It runs before any adapter is opened.
func loadImage(cmd *cobra.Command, path string) (*image.Image, uint32, error) {
	geom := nor.DefaultGeometry()
	img, err := image.Load(path, geom.Capacity)
	if err != nil {
		return nil, 0, err
	}
	addr, err := imageAddr(cmd, img)
	if err != nil {
		return nil, 0, err
	}
	if err := geom.CheckRange(addr, len(img.Data)); err != nil {
		return nil, 0, err
	}
	return img, addr, nil
}

func runProgram(cmd *cobra.Command, args []string) error {
	img, addr, err := loadImage(cmd, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Image: %s\n", img)

	p := &progress{}
	s, err := openSession(
		flasher.WithTrackedErase(trackEraseFlag),
		flasher.WithProgressCallback(p.callback),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	if eraseChipFlag {
		fmt.Println("Erasing chip...")
		start := time.Now()
		if err := s.EraseAll(); err != nil {
			return err
		}
		p.finish()
		fmt.Printf("Done! (%s)\n", elapsed(start))
	}

	fmt.Printf("Programming %d bytes at 0x%06X (%s erase)...\n", len(img.Data), addr, s.ErasePolicy())
	start := time.Now()
	rep, err := s.Program(addr, img.Data)
	p.finish()
	if err != nil {
		return err
	}
	fmt.Printf("Done! %d block erases, %d pages (%s)\n", rep.Erases, rep.Pages, elapsed(start))

	if !verifyFlag {
		return nil
	}
	return verify(s, p, addr, img.Data)
}

func verify(s *flasher.Session, p *progress, addr uint32, data []byte) error {
	fmt.Println("Verifying...")
	start := time.Now()
	if err := s.LoadReference(data); err != nil {
		return err
	}
	res, err := s.VerifyReference(addr)
	p.finish()
	if err != nil {
		return err
	}
	if !res.Match {
		fmt.Printf("FAIL: %d of %d bytes differ, first at 0x%06X (%s)\n",
			res.Mismatches, res.Length, addr+uint32(res.FirstMismatch), elapsed(start))
		return errVerifyFailed
	}
	fmt.Printf("PASS: %d bytes, crc32 %08X (%s)\n", res.Length, image.CRC32(data), elapsed(start))
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	img, addr, err := loadImage(cmd, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Image: %s\n", img)

	p := &progress{}
	s, err := openSession(flasher.WithProgressCallback(p.callback))
	if err != nil {
		return err
	}
	defer s.Close()

	return verify(s, p, addr, img.Data)
}

func runRead(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(addrFlag)
	if err != nil {
		return err
	}

	p := &progress{}
	s, err := openSession(flasher.WithProgressCallback(p.callback))
	if err != nil {
		return err
	}
	defer s.Close()

	length := lengthFlag
	if length == 0 {
		length = s.Geometry().Capacity - int(addr)
	}

	fmt.Printf("Reading %d bytes at 0x%06X...\n", length, addr)
	start := time.Now()
	data, err := s.Read(addr, length)
	p.finish()
	if err != nil {
		return err
	}
	fmt.Printf("Done! crc32 %08X (%s)\n", image.CRC32(data), elapsed(start))

	if hexdumpFlag && outputFlag == "" {
		xxd.Print(int(addr), data)
		return nil
	}

	out := outputFlag
	if out == "" {
		out = image.SnapshotName(time.Now())
	}
	if err := image.Save(out, addr, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Printf("Saved to %s\n", out)
	if hexdumpFlag {
		xxd.Print(int(addr), data)
	}
	return nil
}
