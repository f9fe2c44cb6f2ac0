package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/app"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/common"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/config"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/ultimaker"
)

const AppName = "homeassistant-ultimaker"

type CLI struct {
	app    *app.Application
	logger *logrus.Logger
}

func NewCLI() *CLI {
	return &CLI{}
}

func (c *CLI) Run(args []string) error {
	cmd := &cli.Command{
		Name:    AppName,
		Usage:   "Ultimaker 3D printer bridge for Home Assistant",
		Version: common.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "config.yaml",
			},
			&cli.BoolFlag{
				Name:  "list-clusters",
				Usage: "List Digital Factory clusters visible to the configured cloud account",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Set log level (debug, info, warn, error)",
				Value: "info",
			},
		},
		Action: c.runApp,
	}

	return cmd.Run(context.Background(), args)
}

func (c *CLI) runApp(ctx context.Context, cmd *cli.Command) error {
	c.logger = c.setupLogger(cmd)

	// If no config file exists at default location and no explicit config provided,
	// show help instead of failing
	configPath := cmd.String("config")
	if !cmd.IsSet("config") && configPath == "config.yaml" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if helpErr := cli.ShowAppHelp(cmd); helpErr != nil {
				return fmt.Errorf("failed to show help: %w", helpErr)
			}
			return fmt.Errorf("no configuration found - create config.yaml or specify with --config")
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	c.applyConfigLogging(cmd, cfg)

	if cmd.Bool("list-clusters") {
		return c.listClusters(ctx, cfg)
	}

	c.logger.Infof("Starting %s v%s", AppName, common.GetVersion())

	c.app = app.NewApplication(cfg, c.logger, common.GetVersion())
	if err := c.app.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	shutdownCh := c.setupSignalHandling()

	if err := c.app.Start(); err != nil {
		return err
	}

	<-shutdownCh

	return c.app.Stop()
}

func (c *CLI) setupLogger(cmd *cli.Command) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if level, err := logrus.ParseLevel(cmd.String("log-level")); err == nil {
		logger.SetLevel(level)
	}

	return logger
}

func (c *CLI) applyConfigLogging(cmd *cli.Command, cfg *config.Config) {
	if !cmd.IsSet("log-level") {
		if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
			c.logger.SetLevel(level)
		}
	}
	if cfg.Logging.Format == "json" {
		c.logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

func (c *CLI) setupSignalHandling() <-chan struct{} {
	shutdownCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		c.logger.Infof("Received signal: %v", sig)
		close(shutdownCh)
	}()

	return shutdownCh
}

// listClusters queries the Digital Factory with the first cloud credentials
// found in the config and prints the clusters available to that account.
func (c *CLI) listClusters(ctx context.Context, cfg *config.Config) error {
	var cloudConfig *config.CloudConfig
	for _, printer := range cfg.Printers {
		if printer.Cloud.AccessToken != "" || printer.Cloud.RefreshToken != "" {
			cloudCopy := printer.Cloud
			cloudConfig = &cloudCopy
			break
		}
	}
	if cloudConfig == nil {
		return fmt.Errorf("no cloud credentials found - configure a printer with api: cloud first")
	}

	client := ultimaker.NewCloudClient(*cloudConfig, 30*time.Second, c.logger)

	clusters, err := client.Clusters(ctx)
	if err != nil {
		return fmt.Errorf("failed to list clusters: %w", err)
	}
	if len(clusters) == 0 {
		fmt.Println("No clusters found for this account")
		return nil
	}

	fmt.Printf("Found %d cluster(s):\n\n", len(clusters))
	fmt.Println("Use these details to configure your printers:")
	fmt.Println("Configuration format:")
	fmt.Println("printers:")
	fmt.Println("  studio:")
	fmt.Println("    api: cloud")
	fmt.Println("    cloud:")
	fmt.Println("      cluster_id: \"CLUSTER-ID\"")
	fmt.Println("      access_token: \"TOKEN\"")
	fmt.Println("")

	for i, cluster := range clusters {
		name, _ := cluster["friendly_name"].(string)
		if name == "" {
			name, _ = cluster["name"].(string)
		}
		id, _ := cluster["cluster_id"].(string)
		status, _ := cluster["status"].(string)

		fmt.Printf("%d. %s\n", i+1, name)
		fmt.Printf("   Cluster ID: %s\n", id)
		if status != "" {
			fmt.Printf("   Status: %s\n", status)
		}
		fmt.Println("")
	}

	return nil
}
