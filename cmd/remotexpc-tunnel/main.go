// Command remotexpc-tunnel brings up a CoreDeviceProxy tunnel to an
// already-paired device and opens one lockdown service against it, logging
// that the service opened and then closing it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/lmittmann/tint"

	"github.com/appium/go-ios-remotexpc/internal/config"
	"github.com/appium/go-ios-remotexpc/internal/device"
	"github.com/appium/go-ios-remotexpc/internal/discovery"
	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/metrics"
	"github.com/appium/go-ios-remotexpc/internal/tunnel"
	"github.com/appium/go-ios-remotexpc/internal/usbmux"
	"github.com/appium/go-ios-remotexpc/pkg/remotexpc"
)

var (
	udid           = flag.String("udid", "", "device UDID (required)")
	usbmuxSocket   = flag.String("usbmux-socket", usbmux.DefaultSocket, "path to the usbmuxd control socket")
	proxyPort      = flag.Uint("coredevice-proxy-port", 0, "usbmuxd-relayed CoreDeviceProxy port (required unless -discover)")
	discover       = flag.Bool("discover", false, "find the device's CoreDeviceProxy endpoint via Bonjour instead of usbmuxd")
	negotiatorPath = flag.String("negotiator", "", "path to an external CoreDeviceProxy negotiator binary")
	insecure       = flag.Bool("insecure-skip-verify", true, "skip verifying the device's self-signed tunnel certificate")
	service        = flag.String("service", "", "lockdown service name to open (required)")
	configPath     = flag.String("config", "", "path to a JSON config file (internal/config.Config); supplies -registry when unset")
	registryPath   = flag.String("registry", "", "tunnel registry file path (default: config's, or tunnel-registry.json)")
	metricsListen  = flag.String("metrics-listen", "", "address to serve Prometheus metrics on (disabled when empty)")
	verbose        = flag.Bool("v", false, "enable verbose logging")
)

func main() {
	flag.Parse()
	setupLogging(*verbose)

	if *udid == "" || *service == "" {
		fmt.Fprintln(os.Stderr, "remotexpc-tunnel: -udid and -service are required")
		os.Exit(2)
	}
	if !*discover && *proxyPort == 0 {
		fmt.Fprintln(os.Stderr, "remotexpc-tunnel: -coredevice-proxy-port is required unless -discover is set")
		os.Exit(2)
	}

	if err := run(); err != nil {
		slog.Error("remotexpc-tunnel: failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads the config file at path when set, falling back to an
// unpersisted default Config so callers always get a usable registry path
// and discovery mode even when no -config flag was given.
func loadConfig(path string) *config.Config {
	if path == "" {
		return config.New("remotexpc.json")
	}
	cfg, err := config.Load(path)
	if err != nil {
		slog.Warn("remotexpc-tunnel: failed to load config, using defaults", "path", path, "error", err)
		return config.New(path)
	}
	return cfg
}

func run() error {
	ctx := context.Background()

	cfg := loadConfig(*configPath)
	if *registryPath == "" {
		*registryPath = cfg.RegistryPath()
	}

	var m *metrics.Metrics
	if *metricsListen != "" {
		m = metrics.New()
		srv := &http.Server{Addr: *metricsListen, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("remotexpc-tunnel: metrics server stopped", "error", err)
			}
		}()
		slog.Info("remotexpc-tunnel: serving metrics", "addr", *metricsListen)
	}

	plain, dev, err := dialDevice(ctx)
	if err != nil {
		return err
	}

	session, err := remotexpc.CreateTunnel(ctx, plain, tunnel.TLSConfig{InsecureSkipVerify: *insecure}, negotiatorOracle(), lockdown.DefaultDialer)
	if m != nil {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		m.TunnelBringupsTotal.WithLabelValues(status).Inc()
	}
	if err != nil {
		return err
	}
	defer session.Close()

	registry := tunnel.NewRegistry(*registryPath)
	connType := string(dev.Transport)
	if err := registry.Update(map[string]tunnel.RegistryEntry{
		*udid: {
			DeviceId:       dev.ID(),
			Address:        session.Address,
			RsdPort:        session.RsdPort,
			ConnectionType: connType,
			ProductId:      dev.ProductID,
		},
	}); err != nil {
		slog.Warn("remotexpc-tunnel: failed to update tunnel registry", "error", err)
	}
	if m != nil {
		if entries, err := registry.Load(); err == nil {
			m.RegistrySize.Set(float64(len(entries)))
		}
	}

	conn, err := session.OpenService(ctx, *service)
	if m != nil {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		m.ServiceStartsTotal.WithLabelValues(status).Inc()
	}
	if err != nil {
		return fmt.Errorf("open service %s: %w", *service, err)
	}
	defer conn.Close()

	slog.Info("service opened", "service", *service, "address", session.Address)
	return nil
}

// dialDevice opens the plain (pre-TLS) connection CreateTunnel upgrades,
// using either usbmuxd's relay or a Bonjour-discovered address depending on
// -discover, and returns the device.Device identifying which transport
// found it so callers can persist that alongside the tunnel registry entry.
func dialDevice(ctx context.Context) (net.Conn, device.Device, error) {
	if *discover {
		return dialDeviceViaBonjour(ctx)
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

	plain, err := mux.Connect(attached.DeviceID, uint16(*proxyPort))
	if err != nil {
		return nil, device.Device{}, fmt.Errorf("connect to coredevice proxy port: %w", err)
	}
	dev := device.Device{
		UDID:        *udid,
		Transport:   device.TransportUSB,
		USBDeviceID: attached.DeviceID,
		ProductID:   attached.ProductID,
	}
	return plain, dev, nil
}

// dialDeviceViaBonjour browses for the device's "_remotexpc._tcp"
// advertisement and dials its CoreDeviceProxy endpoint directly, for
// devices reachable without a USB/usbmuxd relay (spec.md §4.1).
func dialDeviceViaBonjour(ctx context.Context) (net.Conn, device.Device, error) {
	browser := discovery.NewBrowser(slog.Default())
	scanCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
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
	plain, err := net.Dial("tcp", net.JoinHostPort(addr, strconv.Itoa(peer.Port)))
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
	return plain, dev, nil
}

// negotiatorOracle shells the proprietary CoreDeviceProxy negotiation out
// to an external binary when one is configured; otherwise it runs a
// not-implemented oracle, since this core deliberately does not
// reimplement Apple's closed-source negotiation logic.
func negotiatorOracle() tunnel.ManagerOracle {
	if *negotiatorPath == "" {
		return tunnel.ExternalManagerOracle{}
	}
	path := *negotiatorPath
	return tunnel.ExternalManagerOracle{
		Negotiator: func(ctx context.Context, conn net.Conn) (tunnel.Descriptor, error) {
			return tunnel.Descriptor{}, runNegotiatorBinary(ctx, path)
		},
	}
}

// runNegotiatorBinary is a placeholder invocation point: a real deployment
// wires this to a helper that speaks to the external negotiator over
// stdio and parses its {address, rsdPort} reply.
func runNegotiatorBinary(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, path)
	return cmd.Run()
}
