package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"osticket-helper/internal/app"
	"osticket-helper/internal/browser"
	"osticket-helper/internal/components/chrono"
	"osticket-helper/internal/components/telemetry"
	"osticket-helper/internal/config"
	"osticket-helper/internal/inbox"
	"osticket-helper/internal/osticket"
	"osticket-helper/internal/receipt"
	"osticket-helper/internal/secrets"

	"github.com/spf13/cobra"
)

const serviceName = "osticket-helper"

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
}

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "osticket-helper lists, archives and resolves osTicket tickets.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(os.Stderr, verbose)
	},
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run loads the configuration, wires an App and hands it to fn. Tracing is
// flushed once fn returns.
func run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath, "")
	if err != nil {
		return err
	}

	shutdown, err := telemetry.SetupTracing(ctx, serviceName, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("failed to flush traces", "err", err)
		}
	}()

	a, err := newApp(cfg, cmd)
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

func newApp(cfg config.Config, cmd *cobra.Command) (*app.App, error) {
	tel := telemetry.SlogAPI{}
	o := cfg.OSTicket

	clock, err := chrono.NewStandardImpl(o.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	tmpl, err := receipt.LoadTemplate(o.TemplatePath)
	if err != nil {
		return nil, err
	}
	assembler := receipt.NewAssembler(receipt.Options{
		ReceiptsDir: o.ReceiptsDir,
		TempDir:     o.TempDir,
		LogoPath:    o.LogoPath,
		Template:    tmpl,
		Compiler: receipt.Typst{
			Binary:  o.TypstBinary,
			Timeout: o.Timeouts.CompileTimeout(),
		},
		Clock:       clock,
		Strings:     cfg.Strings,
		MaxWidth:    o.Images.MaxWidth,
		JPEGQuality: o.Images.JPEGQuality,
	}, tel)

	connect := func(ctx context.Context) (*osticket.Session, error) {
		password, err := secrets.Resolve(ctx, secrets.Sources{
			Inline:      o.Password,
			File:        o.SecretsFile,
			AgeIdentity: o.AgeIdentity,
		})
		if err != nil {
			return nil, err
		}
		engine, err := newEngine(o, tel)
		if err != nil {
			return nil, err
		}
		return osticket.Login(ctx, engine, osticket.Options{
			BaseUrl:  o.Url,
			Username: o.Username,
			Password: password,
			Timeouts: osticket.Timeouts{
				Login:      o.Timeouts.LoginTimeout(),
				Navigation: o.Timeouts.NavigationTimeout(),
				Download:   o.Timeouts.DownloadTimeout(),
			},
			DateFormat:     o.DateFormat,
			Location:       clock.Location(),
			ResolvedStates: o.ResolvedStates,
		}, tel)
	}

	return app.New(app.Options{
		Connect:  connect,
		Store:    inbox.New(o.InboxDir),
		Receipts: assembler,
		Strings:  cfg.Strings,
		Out:      cmd.OutOrStdout(),
	}, tel), nil
}

func newEngine(o config.OSTicket, tel telemetry.API) (browser.Engine, error) {
	switch o.Driver {
	case config.DriverHTTP:
		return browser.NewHTTP(browser.HTTPOptions{
			BaseUrl:           o.Url,
			Timeout:           o.Timeouts.NavigationTimeout(),
			RequestsPerSecond: o.RequestsPerSecond,
			CloudflareBypass:  o.CloudflareBypass,
		}, tel)
	default:
		return browser.NewChrome(browser.ChromeOptions{
			Headless:        o.IsHeadless(),
			SlowMo:          o.SlowMoDuration(),
			ExecPath:        o.ChromePath,
			NoSandbox:       o.NoSandbox,
			DownloadTimeout: o.Timeouts.DownloadTimeout(),
		}, tel)
	}
}
