package printer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"printcast/pkg/config"
)

// Open constructs the configured backend. Every failure is a *BackendInitializationError.
// console is the writer used by the console backend; nil means stdout.
func Open(cfg config.PrinterConfig, console io.Writer) (Backend, error) {
	b, err := open(cfg, console)
	if err != nil {
		return nil, &BackendInitializationError{Backend: cfg.Backend, Err: err}
	}
	slog.Info("Printer backend ready", "backend", cfg.Backend)
	return b, nil
}

func open(cfg config.PrinterConfig, console io.Writer) (Backend, error) {
	switch cfg.Backend {
	case "", "console":
		return NewConsole(console, cfg.Console.ImageDir)

	case "network":
		if cfg.Network.Host == "" {
			return nil, errors.New("network backend requires printer.network.host")
		}
		port := cfg.Network.Port
		if port == 0 {
			port = 9100
		}
		timeout := time.Duration(cfg.Network.Timeout)
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		addr := net.JoinHostPort(cfg.Network.Host, strconv.Itoa(port))
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		p, err := NewEscpos(conn, cfg.PaperWidth)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return p, nil

	case "device":
		if cfg.Device.Path == "" {
			return nil, errors.New("device backend requires printer.device.path")
		}
		f, err := os.OpenFile(cfg.Device.Path, os.O_WRONLY|os.O_APPEND, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to open printer device: %w", err)
		}
		p, err := NewEscpos(f, cfg.PaperWidth)
		if err != nil {
			f.Close()
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
