package turn

import "time"

// Config holds the controller's timing and display tunables. Zero fields take
// the defaults from DefaultConfig.
type Config struct {
	// Settle timer after a final fragment that ends in the wake word.
	SettleWakeOnly time.Duration
	// Settle timer after a final fragment with content past the wake word.
	SettleFinal time.Duration
	// Settle timer after a partial fragment.
	SettleInterim time.Duration
	MaxListening  time.Duration
	Cooldown      time.Duration
	HeadUpWindow  time.Duration

	ReplayTimeout   time.Duration
	AgentTimeout    time.Duration
	LocationWait    time.Duration
	PlaybackTimeout time.Duration

	DisplayColumns      int
	DisplayLines        int
	DisplayFinalHistory int
	DisplayDuration     time.Duration

	ListeningCueURL       string
	ProcessingCueURL      string
	ProcessingCueInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SettleWakeOnly:        10 * time.Second,
		SettleFinal:           1500 * time.Millisecond,
		SettleInterim:         3 * time.Second,
		MaxListening:          15 * time.Second,
		Cooldown:              2 * time.Second,
		HeadUpWindow:          10 * time.Second,
		ReplayTimeout:         5 * time.Second,
		AgentTimeout:          60 * time.Second,
		LocationWait:          time.Second,
		PlaybackTimeout:       30 * time.Second,
		DisplayColumns:        30,
		DisplayLines:          3,
		DisplayFinalHistory:   30,
		DisplayDuration:       20 * time.Second,
		ProcessingCueInterval: time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	durs := []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&c.SettleWakeOnly, d.SettleWakeOnly},
		{&c.SettleFinal, d.SettleFinal},
		{&c.SettleInterim, d.SettleInterim},
		{&c.MaxListening, d.MaxListening},
		{&c.Cooldown, d.Cooldown},
		{&c.HeadUpWindow, d.HeadUpWindow},
		{&c.ReplayTimeout, d.ReplayTimeout},
		{&c.AgentTimeout, d.AgentTimeout},
		{&c.LocationWait, d.LocationWait},
		{&c.PlaybackTimeout, d.PlaybackTimeout},
		{&c.DisplayDuration, d.DisplayDuration},
		{&c.ProcessingCueInterval, d.ProcessingCueInterval},
	}
	for _, f := range durs {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
	if c.DisplayColumns <= 0 {
		c.DisplayColumns = d.DisplayColumns
	}
	if c.DisplayLines <= 0 {
		c.DisplayLines = d.DisplayLines
	}
	if c.DisplayFinalHistory <= 0 {
		c.DisplayFinalHistory = d.DisplayFinalHistory
	}
	return c
}
