package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/peder1981/p2p-color/internal/colorsync"
	"github.com/peder1981/p2p-color/internal/config"
	"github.com/peder1981/p2p-color/internal/discovery"
	"github.com/peder1981/p2p-color/internal/logging"
	"github.com/peder1981/p2p-color/internal/observer"
	"github.com/peder1981/p2p-color/internal/palette"
	"github.com/peder1981/p2p-color/internal/storage"
	"github.com/peder1981/p2p-color/internal/transport"
	"github.com/peder1981/p2p-color/internal/transport/lan"
	"github.com/peder1981/p2p-color/internal/ui"
)

var (
	// Version is set at build time
	Version = "dev"
)

type options struct {
	configPath  string
	palettePath string
	name        string
	tag         string
	transport   string
	logLevel    string
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "p2p-color",
	Short: "Share a color with nearby peers",
	Long: `p2p-color finds peers advertising the same service tag on the local
network, joins them in a session and keeps every screen showing the last
color anyone picked.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPanel,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join the session without the terminal UI and print what happens",
	RunE:  runWatch,
}

var sendCmd = &cobra.Command{
	Use:   "send COLOR",
	Short: "Join the session, send one color and leave",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("p2p-color %s\n", Version)
	},
}

var sendWait time.Duration

// sendFlushTimeout bounds how long send waits for the color to leave.
const sendFlushTimeout = 5 * time.Second

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/p2p-color/config.toml)")
	f.StringVar(&opts.palettePath, "palette", "", "Palette file (default: $XDG_CONFIG_HOME/p2p-color/palette.toml)")
	f.StringVar(&opts.name, "name", "", "Display name shown to peers (default: host name)")
	f.StringVar(&opts.tag, "tag", "", "Service tag peers must share")
	f.StringVar(&opts.transport, "transport", "", "Transport: lan or memory")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	sendCmd.Flags().DurationVar(&sendWait, "wait", 15*time.Second, "How long to wait for a peer")

	rootCmd.AddCommand(watchCmd, sendCmd, versionCmd)
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.name != "" {
		cfg.Service.DisplayName = opts.name
	}
	if opts.tag != "" {
		cfg.Service.Tag = opts.tag
	}
	if opts.transport != "" {
		cfg.Transport.Kind = opts.transport
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func policyFromConfig(p config.PolicyConfig) discovery.Policy {
	auto := p.AutoAccept
	return discovery.Policy{
		ShouldAutoAccept: func(transport.Peer) bool { return auto },
		InviteTimeout:    p.InviteTimeout(),
	}
}

// iceServers turns host:port STUN entries into ICE server URLs.
func iceServers(stun []string) []webrtc.ICEServer {
	var out []webrtc.ICEServer
	for _, s := range stun {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") {
			s = "stun:" + s
		}
		out = append(out, webrtc.ICEServer{URLs: []string{s}})
	}
	return out
}

// session is a running service plus whatever else must be shut down
// with it.
type session struct {
	svc     *colorsync.Service
	cleanup []func()
}

func (s *session) Close() {
	s.svc.Close()
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// startSession builds the transport and the service and starts it.
func startSession(cfg *config.Config, obs observer.Observer, exec observer.Executor, log *zap.Logger) (*session, error) {
	s := &session{}
	var tr transport.Transport

	switch cfg.Transport.Kind {
	case config.TransportMemory:
		net := transport.NewNetwork()
		tr = net.Join()
		mirror, err := startMirror(net, cfg, log)
		if err != nil {
			return nil, err
		}
		s.cleanup = append(s.cleanup, func() { mirror.Close() })
	default:
		lt, err := lan.New(lan.Config{
			ListenAddr:     cfg.Transport.ListenAddr,
			BrowseInterval: cfg.Transport.BrowseInterval(),
			LostAfter:      cfg.Transport.LostAfter(),
			ConnectTimeout: cfg.Transport.ConnectTimeout(),
			UPnP:           cfg.Transport.UPnP,
			ICEServers:     iceServers(cfg.Transport.StunServers),
			Logger:         log,
		})
		if err != nil {
			return nil, err
		}
		tr = lt
	}

	svc, err := colorsync.New(colorsync.Options{
		ServiceTag:  cfg.Service.Tag,
		DisplayName: cfg.Service.DisplayName,
		Policy:      policyFromConfig(cfg.Policy),
		Executor:    exec,
		Logger:      log,
	}, tr, obs)
	if err != nil {
		tr.Close()
		for _, fn := range s.cleanup {
			fn()
		}
		return nil, err
	}
	s.svc = svc
	if err := svc.Start(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// startMirror runs a second in-process peer that sends every color it
// receives back, so the memory transport has someone to talk to.
func startMirror(net *transport.Network, cfg *config.Config, log *zap.Logger) (*colorsync.Service, error) {
	var mirror *colorsync.Service
	obs := observer.Funcs{
		MessageReceived: func(_, content string) {
			go func() {
				time.Sleep(500 * time.Millisecond)
				mirror.Send(content)
			}()
		},
	}
	mirror, err := colorsync.New(colorsync.Options{
		ServiceTag:  cfg.Service.Tag,
		DisplayName: "Mirror",
		Logger:      log.Named("mirror"),
	}, net.Join(), obs)
	if err != nil {
		return nil, err
	}
	if err := mirror.Start(); err != nil {
		mirror.Close()
		return nil, err
	}
	return mirror, nil
}

func buildPalette(cfg *config.Config) (*palette.Palette, error) {
	path := opts.palettePath
	if path == "" {
		p, err := palette.DefaultPalettePath()
		if err == nil {
			path = p
		}
	}
	return palette.Open(path, cfg.Palette)
}

func uiLogFile() string {
	return filepath.Join(storage.StateDir(), "p2p-color.log")
}

func runPanel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(logging.WithoutConsole(cfg.Log, uiLogFile()))
	if err != nil {
		return err
	}
	defer log.Sync()
	defer logging.Install(log)()

	pal, err := buildPalette(cfg)
	if err != nil {
		return err
	}

	var sess *session
	panel := ui.NewPanel("p2p-color", pal, func(color string) (int, error) {
		return sess.svc.Send(color)
	}, log)

	sess, err = startSession(cfg, panel, panel.Executor(), log)
	if err != nil {
		return err
	}
	defer sess.Close()

	local := sess.svc.Local()
	log.Info("panel started", zap.String("id", local.ID), zap.String("name", local.DisplayName))
	return panel.Run()
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer logging.Install(log)()

	out := cmd.OutOrStdout()
	obs := observer.Funcs{
		ConnectionChanged: func(state string, connected []string) {
			fmt.Fprintf(out, "%s %s [%s]\n", time.Now().Format(time.TimeOnly), state, strings.Join(connected, ", "))
		},
		MessageReceived: func(senderID, content string) {
			fmt.Fprintf(out, "%s color %s from %s\n", time.Now().Format(time.TimeOnly), content, senderID)
		},
		Error: func(err error) {
			fmt.Fprintf(out, "%s error: %v\n", time.Now().Format(time.TimeOnly), err)
		},
	}

	sess, err := startSession(cfg, obs, nil, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	local := sess.svc.Local()
	fmt.Fprintf(out, "watching %q as %s (%s), Ctrl+C to stop\n", cfg.Service.Tag, local.DisplayName, local.ID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	connected := make(chan struct{}, 1)
	obs := observer.Funcs{
		ConnectionChanged: func(state string, _ []string) {
			if state == "Connected" {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		},
	}
	sess, err := startSession(cfg, obs, nil, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	select {
	case <-connected:
	case <-time.After(sendWait):
		return fmt.Errorf("no peer connected within %s", sendWait)
	}
	n, err := sess.svc.Send(args[0])
	if err != nil {
		return err
	}
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, sendFlushTimeout)
	defer cancel()
	if err := sess.svc.Flush(ctx); err != nil {
		return fmt.Errorf("send %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %d peers\n", args[0], n)
	return nil
}
