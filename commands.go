package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"murmur/assistant"
	"murmur/audio"
	"murmur/conversation"
	"murmur/doctor"
	"murmur/persist"
)

var errChecksFailed = errors.New("some checks failed")

func withApp(ctx context.Context, opts appOptions, fn func(*app) error) error {
	opts.cfg = cfg
	opts.ephemeral = flags.ephemeral
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.loadErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v; starting fresh\n", a.loadErr)
	}
	return fn(a)
}

// resolveConversation accepts a conversation id or its 1-based position in
// `murmur list`. Empty means the active conversation.
func resolveConversation(store *conversation.Store, arg string) (conversation.ID, error) {
	if arg == "" {
		return store.ActiveID(), nil
	}
	if _, ok := store.Get(conversation.ID(arg)); ok {
		return conversation.ID(arg), nil
	}
	list := store.List()
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(list) {
		return list[n-1].ID, nil
	}
	return "", fmt.Errorf("%w: %s", conversation.ErrNotFound, arg)
}

func formatMessage(m conversation.Message) string {
	who := "you"
	if m.Sender == conversation.SenderAssistant {
		who = "assistant"
	}
	if m.Kind == conversation.KindAudio {
		who += " [voice]"
	}
	line := who + ": " + m.Text
	switch m.Status {
	case conversation.StatusPending:
		line += " (pending)"
	case conversation.StatusFailed:
		line += " (failed)"
	}
	return line
}

func newSendCmd() *cobra.Command {
	var voice, conv string
	var fresh bool
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send one message and print the reply",
		Example: `  murmur send "what's the weather on Mars?"
  murmur send --voice question.wav
  murmur send --new -- tell me a joke`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if voice == "" && text == "" {
				return errors.New("nothing to send: pass text or --voice")
			}
			ctx := cmd.Context()
			return withApp(ctx, appOptions{noAudio: true}, func(a *app) error {
				if fresh {
					a.store.Create()
				} else if conv != "" {
					id, err := resolveConversation(a.store, conv)
					if err != nil {
						return err
					}
					a.store.Select(id)
				}
				id := a.store.ActiveID()
				before, _ := a.store.Messages(id)

				var err error
				if voice != "" {
					clip, cerr := clipFromWAV(ctx, voice, cfg.Format)
					if cerr != nil {
						return fmt.Errorf("reading %s: %w", voice, cerr)
					}
					err = a.session.SendVoice(ctx, id, clip)
				} else {
					err = a.session.SendText(ctx, text)
				}
				if err != nil {
					return err
				}

				after, _ := a.store.Messages(id)
				for _, m := range after[min(len(before), len(after)):] {
					fmt.Println(formatMessage(m))
				}
				if ferr := a.store.LastFailure(id); ferr != nil {
					return fmt.Errorf("request failed: %w", ferr)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "send a wav file as a voice message")
	cmd.Flags().StringVarP(&conv, "conversation", "c", "", "conversation id or list position")
	cmd.Flags().BoolVar(&fresh, "new", false, "start a new conversation")
	return cmd
}

func newEditCmd() *cobra.Command {
	var conv string
	cmd := &cobra.Command{
		Use:   "edit <index> <text...>",
		Short: "Replace a typed message, drop what followed and ask again",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("index %q: %w", args[0], err)
			}
			text := strings.Join(args[1:], " ")
			ctx := cmd.Context()
			return withApp(ctx, appOptions{noAudio: true}, func(a *app) error {
				id, err := resolveConversation(a.store, conv)
				if err != nil {
					return err
				}
				a.store.Select(id)
				if err := a.session.Edit(ctx, index-1, text); err != nil {
					return err
				}
				msgs, _ := a.store.Messages(id)
				for _, m := range msgs[min(index-1, len(msgs)):] {
					fmt.Println(formatMessage(m))
				}
				if ferr := a.store.LastFailure(id); ferr != nil {
					return fmt.Errorf("request failed: %w", ferr)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&conv, "conversation", "c", "", "conversation id or list position")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), appOptions{noAudio: true}, func(a *app) error {
				return writeList(os.Stdout, a.store)
			})
		},
	}
}

func writeList(out io.Writer, store *conversation.Store) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	active := store.ActiveID()
	for i, c := range store.List() {
		mark := " "
		if c.ID == active {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %d\t%s\t%s\t%d messages\n", mark, i+1, c.ID, c.Title, len(c.Messages))
	}
	return w.Flush()
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [conversation]",
		Short: "Print the messages of a conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), appOptions{noAudio: true}, func(a *app) error {
				id, err := resolveConversation(a.store, firstArg(args))
				if err != nil {
					return err
				}
				c, _ := a.store.Get(id)
				fmt.Printf("%s (%s)\n", c.Title, c.ID)
				for i, m := range c.Messages {
					fmt.Printf("%3d  %s\n", i+1, formatMessage(m))
				}
				return nil
			})
		},
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <conversation> <title...>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), appOptions{noAudio: true}, func(a *app) error {
				id, err := resolveConversation(a.store, args[0])
				if err != nil {
					return err
				}
				return a.store.Rename(id, strings.Join(args[1:], " "))
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation>",
		Short: "Delete a conversation and its clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), appOptions{noAudio: true}, func(a *app) error {
				id, err := resolveConversation(a.store, args[0])
				if err != nil {
					return err
				}
				return a.store.Delete(id)
			})
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write every conversation as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, appOptions{noAudio: true}, func(a *app) error {
				if len(args) == 0 {
					return a.gateway.Export(ctx, os.Stdout)
				}
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				if err := a.gateway.Export(ctx, f); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
}

func confirm(prompt string) bool {
	fmt.Print(prompt + " [y/N] ")
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y"
}

func newClearCmd() *cobra.Command {
	var yes, all bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes && !confirm("Delete all conversations?") {
				fmt.Println("Aborted.")
				return nil
			}
			ctx := cmd.Context()
			return withApp(ctx, appOptions{noAudio: true}, func(a *app) error {
				a.store.ClearAll()
				if !all {
					return nil
				}
				if err := a.gateway.Wipe(ctx); err != nil {
					return err
				}
				return a.clips.Purge()
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&all, "all", false, "also reset settings and profile")
	return cmd
}

func parseToggle(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(s)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func newSettingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settings [name] [on|off]",
		Short: "Show or change toggles",
		Long: `Toggles:
  auto_send      send a recording as soon as it stops (default off)
  sound_effects  play cues for recording and replies (default on)
  notifications  announce replies that arrive in another conversation (default on)`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, appOptions{noAudio: true}, func(a *app) error {
				if len(args) == 0 {
					for _, s := range persist.Settings() {
						fmt.Printf("%-14s %s\n", s, onOff(a.gateway.Setting(ctx, s)))
					}
					return nil
				}
				s, err := persist.ParseSetting(args[0])
				if err != nil {
					return err
				}
				if len(args) == 1 {
					fmt.Println(onOff(a.gateway.Setting(ctx, s)))
					return nil
				}
				v, err := parseToggle(args[1])
				if err != nil {
					return fmt.Errorf("value %q: want on or off", args[1])
				}
				return a.gateway.SetSetting(ctx, s, v)
			})
		},
	}
}

func newProfileCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or set the display name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApp(ctx, appOptions{noAudio: true}, func(a *app) error {
				if cmd.Flags().Changed("name") {
					if err := a.gateway.SetDisplayName(ctx, name); err != nil {
						return err
					}
				}
				joined, err := a.gateway.JoinDate(ctx)
				if err != nil {
					return err
				}
				st := a.store.Stats()
				fmt.Printf("name:          %s\n", a.gateway.DisplayName(ctx))
				fmt.Printf("joined:        %s\n", joined.Local().Format("January 2, 2006"))
				fmt.Printf("conversations: %d\n", st.Conversations)
				fmt.Printf("messages:      %d\n", st.Messages)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "set the display name")
	return cmd
}

func newDevicesCmd() *cobra.Command {
	var pick bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			actx, err := audio.NewContext()
			if err != nil {
				return fmt.Errorf("initializing audio: %w", err)
			}
			defer actx.Close()

			if pick {
				dev, err := audio.SelectDevice(actx)
				if err != nil {
					return err
				}
				name := ""
				if dev != nil {
					name = dev.Name
				}
				fmt.Printf("Selected: %s\n", deviceLineText(dev))
				fmt.Printf("To keep it, set `device: %q` in %s\n", name, cfg.Path())
				return nil
			}

			devices, err := actx.Devices()
			if err != nil {
				return err
			}
			for _, d := range devices {
				mark := " "
				if cfg.Device != "" && (d.Name == cfg.Device || d.ID == cfg.Device) {
					mark = "*"
				}
				suffix := ""
				if audio.IsBluetooth(d.Name) {
					suffix = "  (bluetooth, lower quality)"
				}
				fmt.Printf("%s %s%s\n", mark, d.Name, suffix)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pick, "select", false, "pick a device interactively")
	return cmd
}

func newDoctorCmd() *cobra.Command {
	var record time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run system diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actx, err := audio.NewContext()
			if err != nil {
				actx = audio.Unavailable(err)
			}
			defer actx.Close()

			opts := doctor.Options{
				Audio:     actx,
				Device:    cfg.Device,
				Format:    cfg.Format,
				Record:    record,
				Assistant: assistant.NewClient(cfg.APIURL, cfg.RequestTimeout()),
			}
			if !flags.ephemeral {
				opts.DataDir = cfg.DataDir
			}
			if record > 0 {
				fmt.Printf("Speak for %s during the microphone check.\n", record)
			}
			if doctor.Run(cmd.Context(), opts, os.Stdout) != 0 {
				return errChecksFailed
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&record, "record", 3*time.Second, "microphone test length (0 skips it)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print version",
		Args:              cobra.NoArgs,
		PersistentPreRun:  func(*cobra.Command, []string) {},
		PersistentPostRun: func(*cobra.Command, []string) {},
		Run: func(*cobra.Command, []string) {
			fmt.Printf("murmur %s\n", version)
		},
	}
}
