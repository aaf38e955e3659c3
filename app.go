package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"murmur/assistant"
	"murmur/audio"
	"murmur/config"
	"murmur/conversation"
	"murmur/exchange"
	"murmur/kv"
	"murmur/log"
	"murmur/persist"
)

type appOptions struct {
	cfg       *config.Config
	ephemeral bool

	// audio overrides the system audio backend; noAudio runs without a
	// microphone at all.
	audio   audio.Context
	noAudio bool

	assistant assistant.Assistant
	sink      audio.Sink
	observer  exchange.Observer
	warn      func(error)
}

// app is one process-wide session with everything it owns.
type app struct {
	cfg       *config.Config
	ephemeral bool

	kv      kv.Store
	gateway *persist.Gateway
	clips   *persist.Clips
	store   *conversation.Store
	svc     assistant.Assistant
	audio   audio.Context
	device  *audio.DeviceInfo
	session *exchange.Session

	// loadErr is persist.ErrCorrupt when stored conversations were unreadable.
	loadErr    error
	stopMirror func()
}

func openStore(cfg *config.Config, ephemeral bool) (kv.Store, error) {
	if ephemeral {
		return kv.NewMemory(), nil
	}
	return kv.OpenBadger(kv.BadgerOptions{
		Dir:    filepath.Join(cfg.DataDir, "db"),
		Logger: log.Logger(),
	})
}

func openClips(cfg *config.Config, ephemeral bool) (*persist.Clips, error) {
	if ephemeral {
		dir, err := os.MkdirTemp("", "murmur-clips-")
		if err != nil {
			return nil, err
		}
		return persist.NewClips(dir)
	}
	return persist.NewClips(filepath.Join(cfg.DataDir, "clips"))
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg := opts.cfg
	store, err := openStore(cfg, opts.ephemeral)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{cfg: cfg, ephemeral: opts.ephemeral, kv: store}

	a.gateway = persist.New(store, persist.WithWarnings(opts.warn))
	convs, err := a.gateway.LoadConversations(ctx)
	if err != nil {
		if !errors.Is(err, persist.ErrCorrupt) {
			store.Close()
			return nil, err
		}
		a.loadErr = err
	}

	a.clips, err = openClips(cfg, opts.ephemeral)
	if err != nil {
		store.Close()
		return nil, err
	}
	backup, err := a.gateway.Backup(ctx)
	if err != nil {
		log.Warnf("reading conversation backup, keeping clips: %v", err)
	} else if n, err := a.clips.Prune(convs, backup); err != nil {
		log.Warnf("pruning clips: %v", err)
	} else if n > 0 {
		log.Infof("pruned %d orphaned clips", n)
	}

	a.store = conversation.NewStore(convs, conversation.WithReleaser(a.clips.Release))
	a.stopMirror = a.gateway.Mirror(context.WithoutCancel(ctx), a.store)

	a.svc = opts.assistant
	if a.svc == nil {
		a.svc = assistant.NewClient(cfg.APIURL, cfg.RequestTimeout())
	}

	var capture *audio.Controller
	if !opts.noAudio {
		a.audio = opts.audio
		if a.audio == nil {
			a.audio, err = audio.NewContext()
			if err != nil {
				log.Warnf("audio unavailable: %v", err)
				a.audio = audio.Unavailable(fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err))
			}
		}
		a.device, err = audio.FindDevice(a.audio, cfg.Device)
		if err != nil {
			log.Warnf("%v, using system default", err)
		}
		capture = audio.NewController(a.audio, audio.ControllerConfig{
			Device:   a.device,
			Format:   cfg.Format,
			AutoStop: cfg.AutoStopSilence,
			Sink:     opts.sink,
		})
	}

	coord := exchange.NewCoordinator(a.store, a.svc, exchange.Options{
		Timeout:  cfg.RequestTimeout(),
		Clips:    a.clips,
		Observer: opts.observer,
	})
	a.session = exchange.NewSession(a.store, capture, coord)

	log.SessionStart(cfg.APIURL, cfg.Format, a.store.Stats().Conversations)
	return a, nil
}

// Close releases the microphone, waits for exchanges in flight and writes
// the final snapshot.
func (a *app) Close() {
	a.session.Close()
	a.stopMirror()
	if err := a.gateway.Save(context.Background(), a.store.Snapshot()); err != nil {
		log.Errorf("final save: %v", err)
	}
	log.SessionEnd(a.session.Exchanges.Count())
	if err := a.kv.Close(); err != nil {
		log.Errorf("closing storage: %v", err)
	}
	if a.audio != nil {
		a.audio.Close()
	}
	if a.ephemeral {
		os.RemoveAll(a.clips.Dir())
	}
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

// clipFromWAV runs a wav file through the capture pipeline and returns the
// finished clip.
func clipFromWAV(ctx context.Context, path, format string) (*audio.Clip, error) {
	fake, err := audio.NewFakeContext(path, false)
	if err != nil {
		return nil, err
	}
	ctrl := audio.NewController(fake, audio.ControllerConfig{Format: format})
	defer ctrl.Shutdown()
	if err := ctrl.Start(ctx); err != nil {
		return nil, err
	}
	<-fake.Last().AudioDone()
	return ctrl.Stop()
}
