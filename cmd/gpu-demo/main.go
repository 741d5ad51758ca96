// Command gpu-demo drives the core driver against a simulated device,
// exercising bring-up and the syscall surface without real hardware.
package main

import (
	"flag"
	"fmt"
	"os"

	gpu "github.com/drewdorris/xv6-d00m"
	"github.com/drewdorris/xv6-d00m/internal/logging"
)

func main() {
	var (
		verbose = flag.Bool("v", false, "verbose logging")
		pid     = flag.Int("pid", 7, "simulated calling process id")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	used := gpu.NewSimulatedDevice(16)
	cfg := gpu.DefaultConfig()
	cfg.ProbeWindow = gpu.NewAbsentWindow()
	cfg.UsedWindow = used
	cfg.Logger = logger

	driver, err := gpu.New(cfg)
	if err != nil {
		logger.Error("bring-up failed", "error", err)
		os.Exit(1)
	}

	granted, err := driver.Acquire(*pid)
	if err != nil {
		logger.Error("acquire failed", "error", err)
		os.Exit(1)
	}
	if !granted {
		fmt.Println("framebuffer already owned by another process")
		os.Exit(1)
	}

	if err := driver.Transfer(*pid); err != nil {
		logger.Error("transfer failed", "error", err)
		os.Exit(1)
	}
	if err := driver.Flush(*pid); err != nil {
		logger.Error("flush failed", "error", err)
		os.Exit(1)
	}
	driver.Release(*pid)

	snap := driver.Metrics()
	fmt.Printf("commands submitted=%d completed=%d interrupts=%d\n",
		snap.CommandsSubmitted, snap.CommandsCompleted, snap.Interrupts)
}
