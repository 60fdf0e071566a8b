// Package config loads a Coordinator run's Configuration record from a
// TOML file on disk, the way drand's key package loads a group file.
package config

import (
	"math/big"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"

	"github.com/Magic-six/experiment/netsim"
)

// Config is the in-memory, typed form of a run's configuration.
type Config struct {
	PrimeP     *big.Int
	OrderQ     *big.Int
	GeneratorG *big.Int
	EvalAt     *big.Int
	N          int
	Profile    netsim.Profile
	Deadline   time.Duration
	TestMode   bool
}

// fileConfig is the TOML-decodable shape. Big integers are stored as
// decimal strings since TOML has no arbitrary-precision integer type.
type fileConfig struct {
	PrimeP     string `toml:"prime_p"`
	OrderQ     string `toml:"order_q"`
	GeneratorG string `toml:"generator_g"`
	EvalAt     string `toml:"eval_at"`
	N          int    `toml:"n"`
	DeadlineMs int64  `toml:"deadline_ms"`
	TestMode   bool   `toml:"test_mode"`

	Network struct {
		Name            string  `toml:"name"`
		OneWayDelayMs   int64   `toml:"one_way_delay_ms"`
		BandwidthBPS    int64   `toml:"bandwidth_bps"`
		LossProbability float64 `toml:"loss_probability"`
	} `toml:"network"`
}

var namedProfiles = map[string]netsim.Profile{
	"local":     netsim.Local,
	"lan":       netsim.LAN,
	"wan":       netsim.WAN,
	"satellite": netsim.Satellite,
}

// Load reads and decodes path into a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("config: %w", err)
	}

	var fc fileConfig
	if _, err := toml.Decode(string(data), &fc); err != nil {
		return nil, xerrors.Errorf("config: decode %s: %w", path, err)
	}
	return fc.toConfig()
}

func (fc fileConfig) toConfig() (*Config, error) {
	if fc.N <= 0 {
		return nil, xerrors.Errorf("config: n must be positive, got %d", fc.N)
	}

	p, err := parseBigInt("prime_p", fc.PrimeP)
	if err != nil {
		return nil, err
	}
	q, err := parseBigInt("order_q", fc.OrderQ)
	if err != nil {
		return nil, err
	}
	g, err := parseBigInt("generator_g", fc.GeneratorG)
	if err != nil {
		return nil, err
	}

	evalAt := big.NewInt(0)
	if fc.EvalAt != "" {
		evalAt, err = parseBigInt("eval_at", fc.EvalAt)
		if err != nil {
			return nil, err
		}
	}

	profile, err := fc.resolveProfile()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		PrimeP:     p,
		OrderQ:     q,
		GeneratorG: g,
		EvalAt:     evalAt,
		N:          fc.N,
		Profile:    profile,
		Deadline:   time.Duration(fc.DeadlineMs) * time.Millisecond,
		TestMode:   fc.TestMode,
	}
	return cfg, nil
}

func (fc fileConfig) resolveProfile() (netsim.Profile, error) {
	if fc.Network.Name != "" {
		profile, ok := namedProfiles[fc.Network.Name]
		if !ok {
			return netsim.Profile{}, xerrors.Errorf("config: unknown network profile %q", fc.Network.Name)
		}
		return profile, nil
	}
	return netsim.Profile{
		OneWayDelay:     time.Duration(fc.Network.OneWayDelayMs) * time.Millisecond,
		BandwidthBPS:    fc.Network.BandwidthBPS,
		LossProbability: fc.Network.LossProbability,
	}, nil
}

func parseBigInt(field, raw string) (*big.Int, error) {
	if raw == "" {
		return nil, xerrors.Errorf("config: %s is required", field)
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, xerrors.Errorf("config: %s is not a valid decimal integer: %q", field, raw)
	}
	return n, nil
}
