package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/agon-flasher/internal/detect"
	"github.com/bigbag/agon-flasher/internal/flash"
	"github.com/bigbag/agon-flasher/internal/image"
	"github.com/bigbag/agon-flasher/internal/mos"
	"github.com/bigbag/agon-flasher/internal/serial"
	"github.com/bigbag/agon-flasher/internal/vdp"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag    string
	baudFlag    int
	forceFlag   bool
	timeoutFlag time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agon-flash",
		Short: "Update Agon Light firmware (MOS and VDP)",
		Long: `Agon Flash is a tool for updating Agon Light firmware.

The board carries two independently flashable subsystems:
  - MOS, the machine operating system in the ez80's internal flash
  - VDP, the video/display firmware on the ESP32 co-processor

The VDP is updated over the serial link through the OTA listener in the
running VDP firmware. MOS images are validated by rehearsing the full
erase/write/verify cycle against a simulated flash device before the
on-board updater is trusted with them.`,
	}

	vdpCmd := &cobra.Command{
		Use:   "vdp <firmware.bin>",
		Short: "Update VDP firmware over the serial link",
		Long: `Send a VDP firmware image to the board over serial.

The running VDP firmware must carry the OTA update listener; the tool
probes for it before transferring anything. After the transfer the VDP
reboots into the new firmware and the tool polls until it responds.

The co-processor reset is disruptive: when updating both subsystems,
update the VDP first.`,
		Args: cobra.ExactArgs(1),
		RunE: runVDP,
	}
	vdpCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port")
	vdpCmd.Flags().IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate")
	vdpCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip the confirmation prompt")
	vdpCmd.Flags().DurationVar(&timeoutFlag, "timeout", vdp.DefaultRestartTimeout, "How long to wait for the VDP to restart")
	vdpCmd.MarkFlagRequired("port")

	mosCmd := &cobra.Command{
		Use:   "mos <MOS.bin>",
		Short: "Validate a MOS image via a rehearsal programming cycle",
		Long: `Validate a MOS firmware image end to end.

The image is checked for the ez80 startup header and the 128KB flash
size limit, then staged and programmed into a simulated flash device
through the same erase/write/verify state machine the board runs, so a
corrupt or truncated image is caught before it reaches real flash.`,
		Args: cobra.ExactArgs(1),
		RunE: runMOS,
	}
	mosCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip the confirmation prompt")

	checkCmd := &cobra.Command{
		Use:   "check <file>...",
		Short: "Identify firmware files and show their checksums",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCheck,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agon-flash %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(vdpCmd, mosCmd, checkCmd, versionCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openFirmware opens a firmware file and returns its handle, size,
// leading header bytes, and whole-file CRC. The handle is positioned
// back at the start.
func openFirmware(path string) (*os.File, int64, []byte, uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, nil, 0, fmt.Errorf("failed to open firmware file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, nil, 0, fmt.Errorf("failed to stat firmware file: %w", err)
	}

	header := make([]byte, image.HeaderSize)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		f.Close()
		return nil, 0, nil, 0, fmt.Errorf("failed to read firmware header: %w", err)
	}
	header = header[:n]

	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, 0, nil, 0, err
	}
	crc, err := image.Checksum(f)
	if err != nil {
		f.Close()
		return nil, 0, nil, 0, fmt.Errorf("failed to checksum firmware file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, 0, nil, 0, err
	}

	return f, info.Size(), header, crc, nil
}

// confirm asks for y/n on stdin unless --force was given.
func confirm() bool {
	if forceFlag {
		return true
	}
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Flash firmware (y/n)? ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y":
			return true
		case "n":
			fmt.Println("User abort")
			return false
		}
	}
}

func runVDP(cmd *cobra.Command, args []string) error {
	firmwarePath := args[0]

	f, size, header, crc, err := openFirmware(firmwarePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := image.CheckVDP(header); err != nil {
		return fmt.Errorf("%q: %w", firmwarePath, err)
	}

	fmt.Printf("Firmware: %s (%d bytes)\n", firmwarePath, size)
	fmt.Printf("VDP CRC 0x%08X\n", crc)

	if !confirm() {
		return nil
	}

	port, err := serial.Open(portFlag, baudFlag)
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()

	fmt.Printf("Port: %s @ %d baud\n", portFlag, baudFlag)

	fmt.Println("Unlocking VDP updater...")
	present, err := detect.UpdaterPresent(port)
	if err != nil {
		return err
	}
	if !present {
		fmt.Println("OTA not present in current VDP")
		fmt.Println("Program the VDP using Arduino / PlatformIO / esptool")
		return fmt.Errorf("no OTA listener on %s", portFlag)
	}

	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetDescription("Sending"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionClearOnFinish(),
	)

	updater := vdp.New(port,
		vdp.WithRestartTimeout(timeoutFlag),
		vdp.WithProgressCallback(func(sent, total int64) {
			bar.Set64(sent)
		}),
	)

	fmt.Println("Updating VDP firmware")
	if err := updater.Send(f, size); err != nil {
		return err
	}
	bar.Finish()

	fmt.Println("\nWaiting for VDP to restart...")
	if err := updater.WaitRestart(); err != nil {
		if errors.Is(err, vdp.ErrNoResponse) {
			fmt.Println("The VDP did not come back. The transfer may have been")
			fmt.Println("corrupted; reprogram the VDP over USB if it stays dark.")
		}
		return err
	}

	fmt.Println("VDP responding. Done!")
	return nil
}

func runMOS(cmd *cobra.Command, args []string) error {
	firmwarePath := args[0]

	f, size, header, crc, err := openFirmware(firmwarePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := image.CheckMOS(header, size); err != nil {
		return fmt.Errorf("%q: %w", firmwarePath, err)
	}

	fmt.Printf("Firmware: %s (%d bytes)\n", firmwarePath, size)
	fmt.Printf("MOS CRC 0x%08X\n", crc)

	if !confirm() {
		return nil
	}

	pages, _ := mos.PageSpan(size)
	bar := progressbar.NewOptions(pages,
		progressbar.OptionSetDescription("Writing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100),
		progressbar.OptionClearOnFinish(),
	)

	programmer := mos.New(flash.NewSim())
	programmer.SetProgressCallback(func(page, total int) {
		bar.Set(page)
	})
	programmer.SetRetryCallback(func(attempt int) {
		fmt.Printf("\nRetry attempt #%d\n", attempt)
	})

	fmt.Println("Programming MOS firmware (rehearsal)...")
	if err := programmer.Program(f, size, crc); err != nil {
		var fatal *mos.FatalError
		if errors.As(err, &fatal) {
			fmt.Println("\nMultiple errors occured during flash write.")
		}
		return err
	}
	bar.Finish()

	fmt.Printf("\nImage verified: %d pages, CRC 0x%08X. Done!\n", pages, crc)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	for _, path := range args {
		f, size, header, crc, err := openFirmware(path)
		if err != nil {
			return err
		}
		f.Close()

		kind := "unknown"
		if image.CheckMOS(header, size) == nil {
			kind = "MOS (ez80)"
		} else if image.CheckVDP(header) == nil {
			kind = "VDP (ESP32)"
		}

		fmt.Printf("%s:\n", path)
		fmt.Printf("  Type: %s\n", kind)
		fmt.Printf("  Size: %d bytes\n", size)
		fmt.Printf("  CRC:  0x%08X\n", crc)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}
