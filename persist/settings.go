package persist

import (
	"context"
	"fmt"
	"strconv"

	"murmur/kv"
)

type Setting string

const (
	AutoSend      Setting = "auto_send"
	SoundEffects  Setting = "sound_effects"
	Notifications Setting = "notifications"
)

var settingDefaults = map[Setting]bool{
	AutoSend:      false,
	SoundEffects:  true,
	Notifications: true,
}

// Settings lists every toggle in display order.
func Settings() []Setting {
	return []Setting{AutoSend, SoundEffects, Notifications}
}

func ParseSetting(name string) (Setting, error) {
	s := Setting(name)
	if _, ok := settingDefaults[s]; !ok {
		return "", fmt.Errorf("unknown setting %q", name)
	}
	return s, nil
}

func (s Setting) key() kv.Key { return kv.Key{"murmur", "settings", string(s)} }

func (s Setting) Default() bool { return settingDefaults[s] }

// Setting reads a toggle. Missing or unreadable values give the default.
func (g *Gateway) Setting(ctx context.Context, s Setting) bool {
	raw, err := g.kv.Get(ctx, s.key())
	if err != nil {
		return s.Default()
	}
	v, err := strconv.ParseBool(string(raw))
	if err != nil {
		return s.Default()
	}
	return v
}

func (g *Gateway) SetSetting(ctx context.Context, s Setting, v bool) error {
	if _, ok := settingDefaults[s]; !ok {
		return fmt.Errorf("unknown setting %q", s)
	}
	if err := g.kv.Set(ctx, s.key(), []byte(strconv.FormatBool(v))); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}
