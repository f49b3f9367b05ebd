package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/logging"
	"github.com/smazurov/sinkcam/internal/streaming"
	"github.com/smazurov/sinkcam/internal/synthetic"
	"github.com/spf13/cobra"
)

type pushOptions struct {
	server   string
	id       string
	layout   string
	width    uint32
	height   uint32
	fps      int
	count    int
	auth     string
	depthMin uint16
	depthMax uint16
	logJSON  bool
}

// CreatePushCmd creates the push command, a producer that streams a test
// pattern into a running sinkcam.
func CreatePushCmd() *cobra.Command {
	var o pushOptions

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push a test pattern into the camera sink",
		Long: `Connects to /ws/sink as a producer and streams moving colour bars (rgb8, bgra8) ` +
			`or a depth ramp (depth16mm) until interrupted or --count frames are sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format := "text"
			if o.logJSON {
				format = "json"
			}
			logging.Initialize(logging.Config{Level: "info", Format: format})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPush(ctx, o)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.server, "server", "s", "ws://127.0.0.1:8090", "sinkcam server base URL")
	flags.StringVar(&o.id, "id", "", "Producer id (random when empty)")
	flags.StringVarP(&o.layout, "layout", "l", "rgb8", "Pixel layout (rgb8, bgra8, depth16mm)")
	flags.Uint32Var(&o.width, "width", 640, "Frame width")
	flags.Uint32Var(&o.height, "height", 480, "Frame height")
	flags.IntVar(&o.fps, "fps", 30, "Frames per second")
	flags.IntVarP(&o.count, "count", "n", 0, "Stop after this many frames (0 = forever)")
	flags.StringVar(&o.auth, "auth", "", "Basic auth credentials as user:password")
	flags.Uint16Var(&o.depthMin, "depth-min", 300, "Nearest depth of the depth ramp in millimetres")
	flags.Uint16Var(&o.depthMax, "depth-max", 4000, "Farthest depth of the depth ramp in millimetres")
	flags.BoolVar(&o.logJSON, "log-json", false, "Log as JSON")
	return cmd
}

func runPush(ctx context.Context, o pushOptions) error {
	logger := logging.GetLogger("push")

	layout, err := frame.ParseLayout(o.layout)
	if err != nil {
		return err
	}
	if o.fps <= 0 {
		return fmt.Errorf("fps must be positive, got %d", o.fps)
	}
	pattern, err := synthetic.NewPattern("push", frame.NewFormat(o.width, o.height, layout), time.Second/time.Duration(o.fps))
	if err != nil {
		return err
	}
	pattern.SetDepthRange(o.depthMin, o.depthMax)

	target, err := sinkURL(o)
	if err != nil {
		return err
	}
	header := http.Header{}
	if o.auth != "" {
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(o.auth)))
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %s)", target, err, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()
	logger.Info("Connected to sink", "url", target, "format", pattern.Format().String())

	// Drain control frames so close and ping messages are processed.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	var buf []byte
	sent := 0
	for o.count == 0 || sent < o.count {
		f, err := pattern.NextFrame(ctx)
		if err != nil {
			break
		}
		buf = streaming.AppendFrame(buf[:0], f, f.Timestamp)
		f.Release()
		if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		sent++
		if sent%(o.fps*10) == 0 {
			logger.Info("Pushing frames", "sent", sent)
		}
	}

	logger.Info("Push finished", "sent", sent)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return nil
}

func sinkURL(o pushOptions) (string, error) {
	u, err := url.Parse(o.server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/sink"

	q := url.Values{}
	if o.id != "" {
		q.Set("id", o.id)
	}
	q.Set("width", strconv.FormatUint(uint64(o.width), 10))
	q.Set("height", strconv.FormatUint(uint64(o.height), 10))
	q.Set("layout", o.layout)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
