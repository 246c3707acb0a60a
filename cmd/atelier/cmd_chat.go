package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cyodesign.app/atelier/common/logger"
	"cyodesign.app/atelier/core/config"
	"cyodesign.app/atelier/internal/client"
	"cyodesign.app/atelier/internal/conversation"
	"cyodesign.app/atelier/internal/stream"
	"cyodesign.app/atelier/internal/transcript"
	"cyodesign.app/atelier/internal/uploader"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringArray("image", nil, "attach an image to the first message (repeatable)")
	chatCmd.Flags().String("resume", "", "continue a stored conversation")
	chatCmd.Flags().String("locale", "", "conversation locale, e.g. en or de-CH")
	chatCmd.Flags().Bool("verbose", false, "log to stderr")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive design conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.ServiceTypeClient)
		if err != nil {
			return err
		}
		if locale, _ := cmd.Flags().GetString("locale"); locale != "" {
			cfg.Client.Locale = locale
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		setupLogging(verbose)

		images, _ := cmd.Flags().GetStringArray("image")
		pending, err := loadImages(images)
		if err != nil {
			return err
		}

		c := &chat{
			cfg:     cfg.Client,
			backend: client.New(cfg.Client.ServerURL, nil),
			// No overall timeout: the controller guards gaps between events.
			transport: stream.NewHTTPTransport(cfg.Client.ServerURL, &http.Client{}),
			out:       cmd.OutOrStdout(),
			pending:   pending,
		}

		ctx := context.Background()
		if id, _ := cmd.Flags().GetString("resume"); id != "" {
			if err := c.load(ctx, id); err != nil {
				return err
			}
		} else {
			c.start()
		}
		return c.run(ctx, cmd.InOrStdin())
	},
}

// chat is one interactive terminal session.
type chat struct {
	cfg       config.ClientConfig
	backend   *client.Client
	transport stream.Transport
	out       io.Writer

	mu       sync.Mutex
	session  *conversation.Session
	renderer *renderer
	unsub    func()
	pending  []string
}

func (c *chat) sessionConfig() conversation.Config {
	sc := stream.DefaultConfig()
	sc.NoDataTimeout = c.cfg.NoDataTimeout
	sc.Reducer.FlushThreshold = c.cfg.FlushThreshold
	sc.Reducer.PartialComplete = c.cfg.PartialComplete
	return conversation.Config{Locale: c.cfg.Locale, Stream: sc, UploadWorkers: c.cfg.UploadWorkers}
}

func (c *chat) start() {
	c.attach(conversation.New(c.backend, c.transport, c.sessionConfig()))
	fmt.Fprintln(c.out, c.renderer.notice("new conversation "+c.session.ID()))
}

func (c *chat) load(ctx context.Context, id string) error {
	s, err := conversation.Resume(ctx, c.backend, c.transport, c.sessionConfig(), id)
	if err != nil {
		return err
	}
	c.attach(s)
	fmt.Fprintln(c.out, c.renderer.notice("resumed conversation "+id))
	c.renderer.History(s.Store().Snapshot())
	return nil
}

func (c *chat) attach(s *conversation.Session) {
	c.detach()
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.renderer = newRenderer(c.out)
	snaps := make(chan struct{}, 1)
	c.unsub = s.Store().Subscribe(func(transcript.Snapshot) {
		select {
		case snaps <- struct{}{}:
		default:
		}
	})
	go func(r *renderer, s *conversation.Session) {
		for range snaps {
			r.Render(s.Store().Snapshot())
		}
	}(c.renderer, s)
	c.renderer.closeFn = func() { close(snaps) }
}

func (c *chat) detach() {
	if c.session == nil {
		return
	}
	c.unsub()
	c.renderer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.session.Close(ctx); err != nil {
		fmt.Fprintln(c.out, c.renderer.failure("could not save conversation: "+err.Error()))
	}
}

func (c *chat) run(ctx context.Context, in io.Reader) error {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	quit := make(chan struct{})
	go func() {
		for range interrupts {
			c.mu.Lock()
			s := c.session
			c.mu.Unlock()

			switch s.State() {
			case stream.StateConnecting, stream.StateStreaming:
				s.Cancel()
			default:
				close(quit)
				return
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	for {
		if interactive {
			fmt.Fprint(c.out, c.renderer.prompt())
		}

		var line string
		select {
		case <-quit:
			c.detach()
			return nil
		case l, ok := <-lines:
			if !ok {
				c.detach()
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if strings.HasPrefix(line, "/") {
			if done := c.command(ctx, line); done {
				c.detach()
				return nil
			}
			continue
		}
		if line == "" && len(c.pending) == 0 {
			continue
		}

		c.renderer.Begin(c.session.Store().Len())
		err := c.session.Submit(ctx, stream.Input{Text: line, Images: c.pending})
		c.renderer.End(c.session.Store().Snapshot(), err)
		c.pending = nil
	}
}

// command handles a slash command and reports whether to exit.
func (c *chat) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/new":
		c.start()
	case "/load":
		if arg == "" {
			fmt.Fprintln(c.out, c.renderer.failure("usage: /load <conversation id>"))
			return false
		}
		if err := c.load(ctx, arg); err != nil {
			fmt.Fprintln(c.out, c.renderer.failure(err.Error()))
		}
	case "/image":
		imgs, err := loadImages([]string{arg})
		if err != nil {
			fmt.Fprintln(c.out, c.renderer.failure(err.Error()))
			return false
		}
		if len(c.pending)+len(imgs) > stream.MaxImages {
			fmt.Fprintln(c.out, c.renderer.failure(fmt.Sprintf("at most %d images per message", stream.MaxImages)))
			return false
		}
		c.pending = append(c.pending, imgs...)
		fmt.Fprintln(c.out, c.renderer.notice(fmt.Sprintf("%d image(s) attached to your next message", len(c.pending))))
	case "/id":
		fmt.Fprintln(c.out, c.renderer.notice(c.session.ID()))
	default:
		fmt.Fprintln(c.out, c.renderer.failure("commands: /new, /load <id>, /image <path>, /id, /quit"))
	}
	return false
}

func loadImages(paths []string) ([]string, error) {
	if len(paths) > stream.MaxImages {
		return nil, fmt.Errorf("at most %d images per message", stream.MaxImages)
	}
	var refs []string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		ref, err := uploader.EncodeImage(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(logger.NewTraceHandler(handler)))
}
