package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/itohio/capbridge/pkg/bridge"
	"github.com/itohio/capbridge/pkg/capsense"
	"github.com/itohio/capbridge/pkg/config"
	"github.com/itohio/capbridge/pkg/logging"
	"github.com/itohio/capbridge/pkg/publish"
)

// runBridge is replaced in tests.
var runBridge = run

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Read sensor frames and publish them until interrupted",
		Long: `Open the sensor's serial port, wait for it to settle, reopen it and
forward every well-formed frame to the telemetry bus. Malformed frames are
logged as warnings and skipped. The command exits non-zero if the port
cannot be opened or the connection drops.

Example usage:
  capbridge run
  capbridge run -p /dev/ttyUSB0 --bus stdout
  CAPBRIDGE_PORT=/dev/ttyACM1 capbridge run
  capbridge run --mock --bus stdout`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runBridge(cmd.Context(), cfg, v.GetBool("mock"), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringP("port", "p", "", "Serial port override (e.g. /dev/ttyACM0)")
	cmd.Flags().String("bus", "", "Telemetry bus override (mqtt, stdout)")
	cmd.Flags().String("broker", "", "MQTT broker URL override")
	cmd.Flags().String("topic", "", "Topic override")
	cmd.Flags().Bool("mock", false, "Use a simulated sensor instead of the serial port")
	_ = v.BindPFlags(cmd.Flags())

	return cmd
}

// loadConfig reads the config file and applies flag and environment
// overrides on top of it.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	overrides := []struct {
		key string
		dst *string
	}{
		{"port", &cfg.Serial.Port},
		{"bus", &cfg.Bus.Kind},
		{"broker", &cfg.Bus.Broker},
		{"topic", &cfg.Bus.Topic},
		{"log-level", &cfg.Log.Level},
		{"log-format", &cfg.Log.Format},
	}
	for _, o := range overrides {
		if s := v.GetString(o.key); s != "" {
			*o.dst = s
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newPublisher builds the publisher selected by the bus configuration.
func newPublisher(cfg config.BusConfig, stdout io.Writer) (publish.Publisher, error) {
	switch cfg.Kind {
	case config.BusStdout:
		return publish.NewWriter(stdout), nil
	case config.BusMQTT:
		return publish.DialMQTT(cfg)
	}
	return nil, fmt.Errorf("unknown bus kind %q", cfg.Kind)
}

func run(ctx context.Context, cfg *config.Config, mock bool, stdout io.Writer) error {
	log, err := logging.Setup(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// A blocked read only notices cancellation on the next frame; restoring
	// default signal handling lets a second interrupt terminate the process.
	go func() {
		<-ctx.Done()
		stop()
	}()

	pub, err := newPublisher(cfg.Bus, stdout)
	if err != nil {
		return err
	}
	defer pub.Close()

	opener := capsense.SerialOpener
	if mock {
		opener = capsense.MockOpener(&cfg.Mock)
		log.Info("using simulated sensor")
	}

	b := bridge.New(pub, bridge.WithLogger(log))
	session, err := b.Open(ctx, capsense.NewPortConfig(cfg.Serial.Port), opener)
	if err != nil {
		return fmt.Errorf("failed to open sensor: %w", err)
	}
	defer session.Close()

	log.Info("connected", "path", session.Path(), "baud", session.Config().BaudRate)

	if err := b.Run(ctx, session.Port()); err != nil {
		return fmt.Errorf("acquisition stopped: %w", err)
	}
	return nil
}
