package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/njust/KTail-sub000/internal/buildinfo"
	"github.com/njust/KTail-sub000/pkg/config"
	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/daemon"
	"github.com/njust/KTail-sub000/pkg/daemon/service"
	"github.com/njust/KTail-sub000/pkg/manifest"
	"github.com/njust/KTail-sub000/pkg/manifest/presets"
	"github.com/njust/KTail-sub000/pkg/transport/uds"
	tuimodel "github.com/njust/KTail-sub000/pkg/tui/model"
	"github.com/njust/KTail-sub000/pkg/view"
)

var (
	socketPath string
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "ktail",
	Short:        "Real-time log viewer for files, Kubernetes, Docker and journald",
	Long:         "ktail is a TUI + daemon that tails log sources, highlights them with rules and searches them as they grow.",
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path (default from config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "config file path")
	rootCmd.Flags().StringVar(&initialView, "view", "", "view to open on start")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(viewsCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(workloadsCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(serviceCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	return cfg, nil
}

// --- Root: TUI ---

var initialView string

func runTUI(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ensureDaemon(cfg.SocketPath)
	app := tuimodel.New(cfg.SocketPath, initialView)
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func ensureDaemon(socket string) {
	if _, err := os.Stat(socket); err == nil {
		return
	}
	cmd := exec.Command("ktaild", "--config", configPath, "--socket", socket)
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not start ktaild:", err)
		return
	}
	for range 30 {
		if _, err := os.Stat(socket); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "warning: could not start daemon, continuing anyway")
}

func dialDaemon() (*uds.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	client, err := uds.Dial(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", cfg.SocketPath, err)
	}
	return client, nil
}

// call runs one request against the daemon and decodes the response into out.
func call(method string, req, out any) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Call(ctx, method, req, out)
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if daemon is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var pong uds.PingResponse
		if err := call(uds.MethodPing, nil, &pong); err != nil {
			return err
		}
		if pong.Pong {
			fmt.Fprintf(cmd.OutOrStdout(), "pong ✓ (ktaild %s)\n", pong.Version)
		}
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("ktail"))
	},
}

// --- Daemon ---

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start daemon in foreground (for debugging)",
	Long:  "Normally the TUI auto-spawns the daemon. Use this to run it manually.",
	RunE: func(_ *cobra.Command, _ []string) error {
		args := []string{"--config", configPath}
		if socketPath != "" {
			args = append(args, "--socket", socketPath)
		}
		cmd := exec.Command("ktaild", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	},
}

// --- Views ---

var viewsJSON bool

var viewsCmd = &cobra.Command{
	Use:   "views",
	Short: "List the daemon's views and their source state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp uds.ListViewsResponse
		if err := call(uds.MethodListViews, nil, &resp); err != nil {
			return err
		}
		return printViews(cmd.OutOrStdout(), resp.Views, viewsJSON)
	},
}

func init() {
	viewsCmd.Flags().BoolVar(&viewsJSON, "json", false, "output as JSON")
}

func printViews(w io.Writer, views []uds.ViewInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	if len(views) == 0 {
		fmt.Fprintln(w, "no views")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tSTATE\tSTREAMS\tERROR")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", v.Name, v.Kind, v.State, len(v.Active), v.Error)
	}
	return tw.Flush()
}

// --- Tail ---

var tailCmd = &cobra.Command{
	Use:   "tail <view>",
	Short: "Print a view and follow new lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		updates := make(chan core.Update, 256)
		client.OnEvent(func(m uds.Message) {
			if m.Method != uds.EventViewUpdate {
				return
			}
			var u core.Update
			if err := m.UnmarshalData(&u); err != nil || u.View != name {
				return
			}
			select {
			case updates <- u:
			default:
			}
		})

		var snap view.Snapshot
		if err := client.Call(ctx, uds.MethodSnapshot, uds.ViewRequest{View: name}, &snap); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, line := range snap.Lines {
			fmt.Fprintln(out, line)
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-client.Done():
				return errors.New("daemon connection closed")
			case u := <-updates:
				if u.Seq <= snap.Seq {
					continue
				}
				printUpdate(out, u)
			}
		}
	},
}

// printUpdate writes what a line-oriented terminal can show of u. Inserts
// above the tail cannot be placed and are printed as they arrive.
func printUpdate(w io.Writer, u core.Update) {
	switch u.Kind {
	case core.UpdateAppend:
		io.WriteString(w, u.Text)
	case core.UpdateClear:
		fmt.Fprintln(w, "--- view cleared ---")
	}
}

// --- Search ---

var searchCmd = &cobra.Command{
	Use:   "search <view> <query>",
	Short: "Search a view with a smart-case regular expression",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var resp uds.SearchResponse
		if err := client.Call(ctx, uds.MethodSearch, uds.SearchRequest{View: args[0], Query: args[1]}, &resp); err != nil {
			return err
		}
		var snap view.Snapshot
		if err := client.Call(ctx, uds.MethodSnapshot, uds.ViewRequest{View: args[0]}, &snap); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, n := range resp.Lines {
			if n < len(snap.Lines) {
				fmt.Fprintf(out, "%d:%s\n", n+1, snap.Lines[n])
			}
		}
		return nil
	},
}

// --- Workloads ---

var workloadsCmd = &cobra.Command{
	Use:   "workloads <kubernetes|docker|journald> [namespace]",
	Short: "List the workloads a provider can stream",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := uds.WorkloadsRequest{Provider: core.ProviderKind(args[0])}
		if len(args) > 1 {
			req.Namespace = args[1]
		}
		var resp uds.WorkloadsResponse
		if err := call(uds.MethodListWorkloads, req, &resp); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tREADY\tCONTAINERS")
		for _, w := range resp.Workloads {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%d\n", w.ID, w.Status, w.Ready, len(w.Containers))
		}
		return tw.Flush()
	},
}

// --- Rules ---

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the ktail.yaml manifest and its rules",
}

var (
	rulesInitOutput string
	rulesInitForce  bool
)

var rulesInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter ktail.yaml with the system rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := rulesInitOutput
		if path == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.ManifestPath
		}
		if _, err := os.Stat(path); err == nil && !rulesInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		m := presets.Starter()
		if err := manifest.Save(m, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated %s with %d sources and %d rules\n", path, len(m.Sources), len(m.Rules))
		return nil
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a ktail.yaml manifest",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := manifestArg(args)
		if err != nil {
			return err
		}
		m, err := manifest.Load(path)
		if err != nil {
			return err
		}

		errs := manifest.Validate(m)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d sources, %d rules)\n", path, len(m.Sources), len(m.Rules))
			return nil
		}

		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
		}
		return fmt.Errorf("%s: %d error(s)", path, len(errs))
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list [file]",
	Short: "List the rules a manifest activates, system rules included",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := manifestArg(args)
		if err != nil {
			return err
		}
		m, err := daemon.LoadManifest(path, slog.New(slog.DiscardHandler))
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tKIND\tCOLOR\tPATTERN")
		for _, r := range presets.Merge(m.Rules) {
			kind := string(r.Kind)
			if r.System {
				kind += " (system)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, kind, r.Color, r.Pattern)
		}
		return tw.Flush()
	},
}

func manifestArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.ManifestPath, nil
}

func init() {
	rulesInitCmd.Flags().StringVar(&rulesInitOutput, "output", "", "output file path (default from config)")
	rulesInitCmd.Flags().BoolVar(&rulesInitForce, "force", false, "overwrite an existing manifest")
	rulesCmd.AddCommand(rulesInitCmd)
	rulesCmd.AddCommand(rulesValidateCmd)
	rulesCmd.AddCommand(rulesListCmd)
}

// --- Service ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the ktaild systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install, enable and start the ktaild user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfgFile, err := config.ExpandPath(configPath)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := service.Install(ctx, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ktaild service installed ✓")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop, disable and remove the ktaild user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := service.Uninstall(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ktaild service removed ✓")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show socket and service status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(ctx, cfg.SocketPath))
		return nil
	},
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}
