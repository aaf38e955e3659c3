package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"murmur/audio"
	"murmur/beep"
	"murmur/log"
)

var errQuit = errors.New("quit")

func newReplayCmd() *cobra.Command {
	var realtime bool
	cmd := &cobra.Command{
		Use:   "replay <wav-file>",
		Short: "Drive a headless session from stdin, using a wav file as the microphone",
		Long: `replay reads one command per line from stdin:

  RECORD            start recording (the wav file plays into the microphone)
  STOP              stop and send the recording
  WAIT_AUDIO_DONE   wait until the whole wav file has been captured
  SAY <text>        send typed text
  EDIT <n> <text>   replace message n (1-based) and ask again
  NEW               start a new conversation
  WAIT              wait for every exchange in flight
  SLEEP <ms>        pause
  DUMP              print the active conversation
  QUIT              wait for exchanges and exit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			beep.Disable()
			fake, err := audio.NewFakeContext(args[0], realtime)
			if err != nil {
				return fmt.Errorf("loading wav: %w", err)
			}
			return withApp(cmd.Context(), appOptions{audio: fake}, func(a *app) error {
				r := &replayer{app: a, fake: fake, out: os.Stdout}
				return r.run(cmd.Context(), os.Stdin)
			})
		},
	}
	cmd.Flags().BoolVar(&realtime, "realtime", false, "feed audio at capture speed instead of all at once")
	return cmd
}

type replayer struct {
	app  *app
	fake *audio.FakeContext
	out  io.Writer

	wg sync.WaitGroup
}

func (r *replayer) run(ctx context.Context, in io.Reader) error {
	defer r.wg.Wait()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := r.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(r.out, "ERROR %s: %v\n", line, err)
			log.Errorf("replay %q: %v", line, err)
		}
	}
	return scanner.Err()
}

// submit runs an exchange in the background like the chat screen does.
func (r *replayer) submit(send func() error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := send(); err != nil {
			fmt.Fprintf(r.out, "ERROR send: %v\n", err)
		}
	}()
}

func (r *replayer) exec(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	s := r.app.session
	switch cmd {
	case "RECORD":
		return s.Record(ctx)
	case "STOP":
		clip, err := s.Finish()
		if err != nil {
			return err
		}
		if clip == nil {
			fmt.Fprintln(r.out, "EMPTY")
			return nil
		}
		id := r.app.store.ActiveID()
		r.submit(func() error { return s.SendVoice(ctx, id, clip) })
	case "WAIT_AUDIO_DONE":
		if c := r.fake.Last(); c != nil {
			<-c.AudioDone()
		}
	case "SAY":
		r.submit(func() error { return s.SendText(ctx, rest) })
	case "EDIT":
		n, text, _ := strings.Cut(rest, " ")
		index, err := strconv.Atoi(n)
		if err != nil {
			return err
		}
		r.submit(func() error { return s.Edit(ctx, index-1, text) })
	case "NEW":
		r.app.store.Create()
	case "WAIT":
		r.wg.Wait()
	case "SLEEP":
		ms, err := strconv.Atoi(rest)
		if err != nil {
			return err
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
	case "DUMP":
		r.dump()
	case "QUIT":
		r.wg.Wait()
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (r *replayer) dump() {
	c := r.app.store.Active()
	fmt.Fprintf(r.out, "CONVERSATION %s\n", c.Title)
	for _, m := range c.Messages {
		fmt.Fprintln(r.out, formatMessage(m))
	}
}
