// Command session joins a room from the terminal: it negotiates the call,
// prints upward events, and turns stdin lines into chat messages. Useful for
// exercising a relay without a browser on either end.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/oasis-mind/sessioncore/internal/config"
	"github.com/oasis-mind/sessioncore/internal/domain"
	"github.com/oasis-mind/sessioncore/internal/media"
	"github.com/oasis-mind/sessioncore/internal/session"
	sig "github.com/oasis-mind/sessioncore/internal/signal"
)

var (
	flagServer   string
	flagRoom     string
	flagRole     string
	flagName     string
	flagPeerName string
	flagDuration time.Duration
	flagSTUN     []string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "session",
	Short: "Join a two-party audio/video session from the terminal",
	Long: `Connects to a signaling relay, joins the given room and negotiates a
peer connection with synthetic audio/video tracks.

Typed lines are sent over the chat side channel. Commands:
  /mic     toggle the microphone
  /camera  toggle the camera
  /end     end the call`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagServer, "server", "ws://localhost:5001/ws", "relay websocket URL")
	rootCmd.Flags().StringVar(&flagRoom, "room", "", "room identifier (required)")
	rootCmd.Flags().StringVar(&flagRole, "role", "responder", "negotiation role: initiator or responder")
	rootCmd.Flags().StringVar(&flagName, "name", "guest", "display name announced to the peer")
	rootCmd.Flags().StringVar(&flagPeerName, "peer-name", "Peer", "display name used for the counterpart")
	rootCmd.Flags().DurationVar(&flagDuration, "duration", 0, "session length (defaults to session_duration from config)")
	rootCmd.Flags().StringSliceVar(&flagSTUN, "stun", nil, "STUN server URLs (defaults to stun_servers from config)")
	rootCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "debug logging")
	_ = rootCmd.MarkFlagRequired("room")
}

func run(ctx context.Context) error {
	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	role, err := domain.ParseRole(flagRole)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	stun := cfg.STUNServers
	if len(flagSTUN) > 0 {
		stun = flagSTUN
	}
	duration := cfg.SessionDuration
	if flagDuration > 0 {
		duration = flagDuration
	}

	client := sig.NewClient(flagServer)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}

	var iceServers []webrtc.ICEServer
	for _, u := range stun {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}
	if cfg.TURNServer != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       []string{cfg.TURNServer},
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNPassword,
		})
	}

	n := session.New(session.Config{
		Room:       domain.RoomID(flagRoom),
		Role:       role,
		SelfName:   flagName,
		PeerName:   flagPeerName,
		Duration:   duration,
		ICEServers: iceServers,
	}, client, media.NewSynthetic(), nil)

	if err := n.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := n.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("signaling connection lost")
		}
	}()
	go readCommands(n)
	go func() {
		<-ctx.Done()
		n.End()
	}()

	for ev := range n.Events() {
		printEvent(ev)
		if ev.Kind == session.EventEnded {
			return nil
		}
	}
	return nil
}

func readCommands(n *session.Negotiator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch line {
		case "":
		case "/mic":
			if n.ToggleMic() {
				fmt.Println("* microphone on")
			} else {
				fmt.Println("* microphone off")
			}
		case "/camera":
			if n.ToggleCamera() {
				fmt.Println("* camera on")
			} else {
				fmt.Println("* camera off")
			}
		case "/end":
			n.End()
			return
		default:
			n.SendChat(line)
		}
	}
}

func printEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventStatusChanged:
		fmt.Printf("* %s\n", ev.Status)
	case session.EventPeerJoined:
		fmt.Printf("* %s joined\n", ev.Detail)
	case session.EventPeerLeft:
		fmt.Printf("* %s left\n", ev.Detail)
	case session.EventChatMessage:
		fmt.Printf("[%s] %s: %s\n", ev.Message.Timestamp.Format("15:04:05"), ev.Message.Sender, ev.Message.Text)
	case session.EventRemoteMedia:
		fmt.Printf("* receiving remote %s\n", ev.Detail)
	case session.EventTimeWarning:
		fmt.Printf("* %s remaining in this session\n", ev.Remaining)
	case session.EventNotice:
		fmt.Printf("* %s\n", ev.Detail)
	case session.EventEnded:
		fmt.Println("* session ended")
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
