// Command remotexpc-pair runs Pair-Setup and Pair-Verify against a single
// device over usbmuxd (or a Bonjour-discovered endpoint with -discover),
// persisting the resulting pair record.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/lmittmann/tint"

	"github.com/appium/go-ios-remotexpc/internal/config"
	"github.com/appium/go-ios-remotexpc/internal/device"
	"github.com/appium/go-ios-remotexpc/internal/discovery"
	"github.com/appium/go-ios-remotexpc/internal/metrics"
	"github.com/appium/go-ios-remotexpc/internal/pairing"
	"github.com/appium/go-ios-remotexpc/internal/usbmux"
	"github.com/appium/go-ios-remotexpc/pkg/remotexpc"
)

var (
	udid          = flag.String("udid", "", "device UDID (required)")
	usbmuxSocket  = flag.String("usbmux-socket", usbmux.DefaultSocket, "path to the usbmuxd control socket")
	discoverFlag  = flag.Bool("discover", false, "find the device's pairing endpoint via Bonjour instead of usbmuxd")
	pairRecordDir = flag.String("pair-record-dir", "", "directory to persist pair records in (default: config's, or required)")
	lockdownPort  = flag.Uint("lockdown-port", 62078, "usbmuxd-relayed lockdown/pairing port")
	configPath    = flag.String("config", "", "path to a JSON config file (internal/config.Config); supplies -pair-record-dir when unset")
	metricsListen = flag.String("metrics-listen", "", "address to serve Prometheus metrics on (disabled when empty)")
	verbose       = flag.Bool("v", false, "enable verbose logging")
)

func main() {
	flag.Parse()
	setupLogging(*verbose)

	if *udid == "" {
		fmt.Fprintln(os.Stderr, "remotexpc-pair: -udid is required")
		os.Exit(2)
	}

	if err := run(); err != nil {
		slog.Error("remotexpc-pair: failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// loadConfig reads the config file at path when set, falling back to an
// unpersisted default Config so -pair-record-dir always has somewhere to
// fall back to even without a -config flag.
func loadConfig(path string) *config.Config {
	if path == "" {
		return config.New("remotexpc.json")
	}
	cfg, err := config.Load(path)
	if err != nil {
		slog.Warn("remotexpc-pair: failed to load config, using defaults", "path", path, "error", err)
		return config.New(path)
	}
	return cfg
}

func run() error {
	cfg := loadConfig(*configPath)
	if *pairRecordDir == "" {
		*pairRecordDir = cfg.PairRecordsDir()
	}

	ctx, cancel := context.WithTimeout(context.Background(), remotexpc.DefaultPairTimeout)
	defer cancel()

	var m *metrics.Metrics
	if *metricsListen != "" {
		m = metrics.New()
		srv := &http.Server{Addr: *metricsListen, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("remotexpc-pair: metrics server stopped", "error", err)
			}
		}()
		slog.Info("remotexpc-pair: serving metrics", "addr", *metricsListen)
	}

	conn, dev, err := dialDevice()
	if err != nil {
		return err
	}
	defer conn.Close()
	slog.Debug("remotexpc-pair: dialed device", "device", dev.String(), "transport", dev.Transport)

	store, err := pairing.NewFileStore(*pairRecordDir)
	if err != nil {
		return fmt.Errorf("open pair record store: %w", err)
	}

	prompt := pairing.PINPrompterFunc(promptStdin)

	keys, err := remotexpc.PairWithDevice(ctx, conn, *udid, prompt, store)
	if m != nil {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		m.PairingAttemptsTotal.WithLabelValues(status).Inc()
	}
	if err != nil {
		return err
	}
	slog.Info("pairing complete", "device", *udid, "session_key_len", len(keys.ClientEncryptKey))
	return nil
}

// dialDevice opens the lockdown/pairing connection, using either usbmuxd's
// relay or a Bonjour-discovered address depending on -discover.
func dialDevice() (net.Conn, device.Device, error) {
	if *discoverFlag {
		return dialDeviceViaBonjour()
	}
	return dialDeviceViaUSB()
}

func dialDeviceViaUSB() (net.Conn, device.Device, error) {
	mux := usbmux.NewClient(*usbmuxSocket)
	devices, err := mux.ListDevices()
	if err != nil {
		return nil, device.Device{}, fmt.Errorf("list usbmux devices: %w", err)
	}
	var attached usbmux.DeviceAttached
	found := false
	for _, d := range devices {
		if d.UDID == *udid {
			attached = d
			found = true
			break
		}
	}
	if !found {
		return nil, device.Device{}, fmt.Errorf("device %s not attached", *udid)
	}

	conn, err := mux.Connect(attached.DeviceID, uint16(*lockdownPort))
	if err != nil {
		return nil, device.Device{}, fmt.Errorf("connect to lockdown port: %w", err)
	}
	dev := device.Device{
		UDID:        *udid,
		Transport:   device.TransportUSB,
		USBDeviceID: attached.DeviceID,
		ProductID:   attached.ProductID,
	}
	return conn, dev, nil
}

// dialDeviceViaBonjour browses for the device's "_remotexpc._tcp"
// advertisement and dials its lockdown endpoint directly, for devices
// reachable without a USB/usbmuxd relay (spec.md §4.1).
func dialDeviceViaBonjour() (net.Conn, device.Device, error) {
	browser := discovery.NewBrowser(slog.Default())
	scanCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- browser.Run(scanCtx) }()
	<-scanCtx.Done()
	<-done

	peer, ok := browser.Lookup(*udid)
	if !ok {
		for _, p := range browser.Peers() {
			if p.Properties["UniqueDeviceID"] == *udid {
				peer = p
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil, device.Device{}, fmt.Errorf("device %s not found via Bonjour discovery", *udid)
	}

	addr := peer.Hostname
	if len(peer.AddrsV4) > 0 {
		addr = peer.AddrsV4[0].String()
	} else if len(peer.AddrsV6) > 0 {
		addr = peer.AddrsV6[0].String()
	}
	conn, err := net.Dial("tcp", net.JoinHostPort(addr, strconv.Itoa(peer.Port)))
	if err != nil {
		return nil, device.Device{}, fmt.Errorf("dial bonjour peer: %w", err)
	}
	dev := device.Device{
		UDID:            *udid,
		Transport:       device.TransportBonjour,
		BonjourInstance: peer.Instance,
		Addr:            addr,
		Port:            peer.Port,
	}
	return conn, dev, nil
}

func promptStdin(ctx context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "Enter the PIN shown on the device: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read pin: %w", err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}
