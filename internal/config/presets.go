package config

// Presets are named starting points for common deployments. They are
// exposed through "simbridge config init --preset".
var Presets = map[string]*Config{
	"local": {
		Scene:    "scene.json",
		TickRate: DefaultTickRate,
		DataDir:  DefaultDataDir,
		Transport: TransportConfig{
			Kind: "memory",
		},
		Record:   true,
		LogLevel: "info",
	},
	"nats": {
		Scene:    "scene.json",
		TickRate: DefaultTickRate,
		DataDir:  DefaultDataDir,
		Transport: TransportConfig{
			Kind: "nats",
			URL:  "nats://127.0.0.1:4222",
		},
		Record:   true,
		LogLevel: "info",
	},
	"bench": {
		Scene:    "scene.json",
		TickRate: 500,
		DataDir:  DefaultDataDir,
		Transport: TransportConfig{
			Kind: "memory",
		},
		Record:   false,
		LogLevel: "warn",
	},
}

func Preset(name string) (*Config, bool) {
	cfg, ok := Presets[name]
	if !ok {
		return nil, false
	}
	out := *cfg
	return &out, true
}
