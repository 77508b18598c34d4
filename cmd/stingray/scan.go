package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	goble "github.com/srg/stingray/internal/device/go-ble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby sensors",
	Long: `Listen for Bluetooth Low Energy advertisements and list the sensors in
range, strongest signal first. Use --all to include every BLE device.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every advertising device, not only sensors")
}

func runScan(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	timeout := cfg.ScanTimeout
	if scanDuration > 0 {
		timeout = scanDuration
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	logger.WithField("timeout", timeout).Info("Scanning for sensors...")
	fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for %v...\n", timeout)
	found, err := goble.Scan(ctx, scanAll)
	if err != nil {
		return err
	}
	return printAdvertisements(cmd.OutOrStdout(), found)
}

func printAdvertisements(w io.Writer, found []goble.Advertisement) error {
	if len(found) == 0 {
		_, err := fmt.Fprintln(w, "No sensors found")
		return err
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].RSSI > found[j].RSSI })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI\tSENSOR\tSERVICES")
	for _, adv := range found {
		name := adv.Name
		if name == "" {
			name = "-"
		}
		sensor := "no"
		if adv.IsSensor() {
			sensor = color.GreenString("yes")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", adv.Address, name, adv.RSSI, sensor, strings.Join(adv.Services, ","))
	}
	return tw.Flush()
}
