package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blimp/internal/feed"
	"github.com/srg/blimp/internal/groutine"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/transport/goble"
	"github.com/srg/blimp/pkg/config"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host a GATT profile and advertise it",
	Long: `Hosts the services of a YAML profile on the local adapter and advertises them.

Writes from centrals are printed as hex and answered with success. Characteristics with
notify can be fed from stdin or mirror the writes received on another characteristic.

Examples:
  # Serve the built-in Heart Rate + Nordic UART profile
  blimp serve

  # Serve a custom profile under a custom name
  blimp serve --profile ./sensor.yaml --name bench-sensor

  # Stream stdin to the UART TX characteristic
  tail -f /var/log/syslog | blimp serve --feed 6e400003-b5a3-f393-e0a9-e50e24dcca9e

  # Echo UART RX writes back as TX notifications
  blimp serve --echo 6e400003-b5a3-f393-e0a9-e50e24dcca9e`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveProfile string
	serveName    string
	serveFeed    string
	serveEcho    string
	serveVerbose bool
)

func init() {
	serveCmd.Flags().StringVar(&serveProfile, "profile", "", "Profile YAML file (default: built-in profile or config 'profile')")
	serveCmd.Flags().StringVar(&serveName, "name", "", "Advertised local name (default: config 'device_name')")
	serveCmd.Flags().StringVar(&serveFeed, "feed", "", "Characteristic UUID to stream stdin to")
	serveCmd.Flags().StringVar(&serveEcho, "echo", "", "Characteristic UUID to mirror received writes to")
	serveCmd.Flags().BoolVar(&serveVerbose, "verbose", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	manager, err := buildManager(cfg, serveProfile, logger)
	if err != nil {
		return err
	}
	defer manager.Close()

	server := goble.NewServer(manager, logger, goble.Options{
		NotifyCredits:        cfg.NotifyCredits,
		OverflowPolicy:       cfg.Policy(),
		WriteResponseTimeout: cfg.WriteResponseTimeout,
	})

	echo, err := notifiableCharacteristic(manager, serveEcho)
	if err != nil {
		return err
	}
	feedTarget, err := notifiableCharacteristic(manager, serveFeed)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group := &groutine.Group{
		OnPanic: func(name string, recovered any) {
			logger.WithField("error", groutine.PanicError(name, recovered)).Error("Background task failed")
		},
	}

	printer := &writePrinter{out: cmd.OutOrStdout()}
	for _, c := range manager.Characteristics() {
		if !c.PropertyEnabled(peripheral.PropertyWrite | peripheral.PropertyWriteNR) {
			continue
		}
		ws := c.StartAcceptingWrites(cfg.WriteQueueCapacity)
		group.Go(ctx, "writes-"+c.UUID(), func(ctx context.Context) {
			consumeWrites(ctx, manager, ws, echo, printer, logger)
		})
	}

	if feedTarget != nil {
		f := feed.New(feedTarget, logger, feed.Options{ChunkSize: cfg.FeedChunkSize})
		group.Go(ctx, "feed-stdin", func(ctx context.Context) {
			if err := f.Run(ctx, cmd.InOrStdin()); err != nil {
				logger.WithField("error", err).Error("Feed stopped")
			}
			stats := f.Stats()
			logger.WithFields(logrus.Fields{
				"bytes_read":    stats.BytesRead,
				"bytes_dropped": stats.BytesDropped,
				"chunks":        stats.Chunks,
				"queued":        stats.Queued,
			}).Info("Feed finished")
		})
	}

	name := serveName
	if name == "" {
		name = cfg.DeviceName
	}
	var status *StatusLine
	if out := cmd.OutOrStdout(); isTerminal(out) {
		status = NewStatusLine(out, "Advertising "+name, func() string {
			return serveStatus(server.Stats())
		})
		status.Start()
	}
	serveErr := server.Serve(ctx, name)
	if status != nil {
		status.Stop()
	}

	cancel()
	manager.Close()
	group.Wait()

	logServeSummary(logger, manager, server)
	return serveErr
}

// buildManager creates a peripheral manager hosting every service of the profile.
func buildManager(cfg *config.Config, profilePath string, logger *logrus.Logger) (*peripheral.PeripheralManager, error) {
	if profilePath == "" {
		profilePath = cfg.ProfilePath
	}
	profile, err := config.LoadProfile(profilePath)
	if err != nil {
		return nil, err
	}
	services, err := profile.ServiceProfiles()
	if err != nil {
		return nil, err
	}

	journal, err := peripheral.NewJournal(cfg.JournalSize)
	if err != nil {
		return nil, err
	}
	manager := peripheral.NewPeripheralManager(logger, peripheral.WithJournal(journal))
	for _, sp := range services {
		svc, err := peripheral.NewServiceFromProfile(sp)
		if err != nil {
			return nil, err
		}
		if err := manager.AddService(svc); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// notifiableCharacteristic resolves uuid, nil when uuid is empty.
func notifiableCharacteristic(manager *peripheral.PeripheralManager, uuid string) (*peripheral.MutableCharacteristic, error) {
	if uuid == "" {
		return nil, nil
	}
	c, err := manager.Characteristic(uuid)
	if err != nil {
		return nil, err
	}
	if !c.CanNotify() {
		return nil, fmt.Errorf("%w: %s", ErrNotNotifiable, c.UUID())
	}
	return c, nil
}

// writePrinter serializes write reports from several consumer goroutines.
type writePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *writePrinter) Print(w peripheral.IncomingWrite) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s <- %s: %s\n", w.Request.CharacteristicUUID, w.Peer.Identifier(), hex.EncodeToString(w.Request.Data))
}

// consumeWrites answers every write on ws with success until the stream closes or ctx ends.
func consumeWrites(ctx context.Context, responder peripheral.Responder, ws *peripheral.WriteStream, echo *peripheral.MutableCharacteristic, printer *writePrinter, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ws.C():
			if !ok {
				return
			}
			printer.Print(w)
			if echo != nil {
				echo.Update(w.Request.Data)
			}
			if w.Request.WithoutResponse {
				continue
			}
			if err := responder.RespondToRequest(w.Request, ble.ErrSuccess); err != nil {
				logger.WithFields(logrus.Fields{
					"request_id": w.Request.ID,
					"error":      err,
				}).Warn("Failed to respond to write request")
			}
		}
	}
}

// serveStatus renders the live counters shown on the status line.
func serveStatus(ss goble.ServerStats) string {
	return fmt.Sprintf("%d subscribed, %d sent, %d writes", ss.Subscriptions, ss.Notifications, ss.WritesAccepted)
}

func logServeSummary(logger *logrus.Logger, manager *peripheral.PeripheralManager, server *goble.Server) {
	for _, c := range manager.Characteristics() {
		stats := c.Stats()
		logger.WithFields(logrus.Fields{
			"characteristic": c.UUID(),
			"delivered":      stats.Delivered,
			"queued":         stats.Queued,
			"rejected":       stats.Rejected,
			"superseded":     stats.Superseded,
		}).Debug("Delivery summary")
	}
	if j := manager.Journal(); j != nil {
		entries := j.Drain()
		logger.WithFields(logrus.Fields{
			"journal_entries": len(entries),
			"overwritten":     j.Overwritten(),
			"failed":          j.Failed(),
		}).Debug("Delivery journal")
	}
	ss := server.Stats()
	logger.WithFields(logrus.Fields{
		"notifications":   ss.Notifications,
		"notify_errors":   ss.NotifyErrors,
		"ready_signals":   ss.ReadySignals,
		"writes_accepted": ss.WritesAccepted,
		"writes_refused":  ss.WritesRefused,
	}).Info("Peripheral stopped")
}
