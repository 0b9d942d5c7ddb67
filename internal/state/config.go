package state

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/lorasense/helpers"
	"github.com/temoto/lorasense/internal/auth"
	"github.com/temoto/lorasense/internal/network/gwbridge"
	"github.com/temoto/lorasense/internal/node"
	"github.com/temoto/lorasense/internal/retry"
	"github.com/temoto/lorasense/internal/watchdog"
	"github.com/temoto/lorasense/log2"
)

const (
	DefaultPersistRoot   = "./tmp-lorasense"
	DefaultIndicatorChip = "/dev/gpiochip0"
	DefaultIndicatorLine = 17
	maxAppPort           = 223
)

const (
	WatchdogSystemd = "systemd"
	WatchdogDev     = "dev"
	WatchdogSoft    = "soft"
	WatchdogNone    = "none"

	SensorSim    = "sim"
	SensorBME280 = "bme280"

	NetworkSim      = "sim"
	NetworkGWBridge = "gwbridge"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogDebug      bool `hcl:"log_debug"`
	TxIntervalSec int  `hcl:"tx_interval_sec"`

	Auth struct {
		KeyHex string `hcl:"key_hex"`
	} `hcl:"auth"`
	Join struct {
		MaxAttempts      int `hcl:"max_attempts"`
		RetryIntervalSec int `hcl:"retry_interval_sec"`
	} `hcl:"join"`
	Uplink struct {
		MaxAttempts   int   `hcl:"max_attempts"`
		RetryDelaySec int   `hcl:"retry_delay_sec"`
		Port          int   `hcl:"port"`
		Confirmed     *bool `hcl:"confirmed"`
	} `hcl:"uplink"`

	Watchdog struct {
		Driver     string `hcl:"driver"`
		TimeoutSec int    `hcl:"timeout_sec"`
		Device     string `hcl:"device"`
	} `hcl:"watchdog"`
	Sensor struct {
		Driver  string `hcl:"driver"`
		I2CBus  string `hcl:"i2c_bus"`
		I2CAddr int    `hcl:"i2c_addr"`
	} `hcl:"sensor"`
	Network struct {
		Driver string `hcl:"driver"`
		Sim    struct {
			JoinFailures int     `hcl:"join_failures"`
			SendFailures int     `hcl:"send_failures"`
			FailRate     float64 `hcl:"fail_rate"`
			DelayMs      int     `hcl:"delay_ms"`
		} `hcl:"sim"`
		GWBridge struct {
			Broker          string `hcl:"broker"`
			Username        string `hcl:"username"`
			Password        string `hcl:"password"`
			GatewayID       string `hcl:"gateway_id"`
			DevEUI          string `hcl:"dev_eui"`
			JoinEUI         string `hcl:"join_eui"`
			AppKey          string `hcl:"app_key"`
			Frequency       int    `hcl:"frequency"`
			SpreadingFactor int    `hcl:"spreading_factor"`
			Bandwidth       int    `hcl:"bandwidth"`
			JoinTimeoutSec  int    `hcl:"join_timeout_sec"`
			AckTimeoutSec   int    `hcl:"ack_timeout_sec"`
		} `hcl:"gwbridge"`
	} `hcl:"network"`
	Indicator struct {
		Enable bool   `hcl:"enable"`
		Chip   string `hcl:"chip"`
		Line   int    `hcl:"line"`
	} `hcl:"indicator"`
	Persist struct {
		Root string `hcl:"root"`
	} `hcl:"persist"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) Node() node.Config {
	nc := node.DefaultConfig()
	nc.TxInterval = helpers.IntSecondDefault(c.TxIntervalSec, node.DefaultTxInterval)
	nc.Join = retry.Policy{
		MaxAttempts: intDefault(c.Join.MaxAttempts, node.DefaultJoinMaxAttempts),
		Delay:       helpers.IntSecondDefault(c.Join.RetryIntervalSec, node.DefaultJoinRetry),
	}
	nc.Uplink = retry.Policy{
		MaxAttempts: intDefault(c.Uplink.MaxAttempts, node.DefaultUplinkMaxAttempts),
		Delay:       helpers.IntSecondDefault(c.Uplink.RetryDelaySec, node.DefaultUplinkRetry),
	}
	nc.Port = uint8(intDefault(c.Uplink.Port, node.DefaultPort))
	if c.Uplink.Confirmed != nil {
		nc.Confirmed = *c.Uplink.Confirmed
	}
	return nc
}

func (c *Config) WatchdogDriver() string {
	if c.Watchdog.Driver == "" {
		return WatchdogSystemd
	}
	return c.Watchdog.Driver
}

func (c *Config) WatchdogTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Watchdog.TimeoutSec, watchdog.DefaultTimeout)
}

func (c *Config) SensorDriver() string {
	if c.Sensor.Driver == "" {
		return SensorSim
	}
	return c.Sensor.Driver
}

func (c *Config) NetworkDriver() string {
	if c.Network.Driver == "" {
		return NetworkSim
	}
	return c.Network.Driver
}

// Key is parsed key_hex or built-in default key.
func (c *Config) Key() (auth.Key, error) {
	if c.Auth.KeyHex == "" {
		return auth.DefaultKey, nil
	}
	k, err := auth.ParseKeyHex(c.Auth.KeyHex)
	return k, errors.Annotate(err, "config auth.key_hex")
}

func (c *Config) Bridge() (gwbridge.Config, error) {
	x := &c.Network.GWBridge
	bc := gwbridge.Config{
		Broker:          x.Broker,
		Username:        x.Username,
		Password:        x.Password,
		Frequency:       uint32(intDefault(x.Frequency, 868100000)),
		SpreadingFactor: uint32(intDefault(x.SpreadingFactor, 7)),
		Bandwidth:       uint32(intDefault(x.Bandwidth, 125)),
		JoinTimeout:     helpers.IntSecondDefault(x.JoinTimeoutSec, gwbridge.DefaultJoinTimeout),
		AckTimeout:      helpers.IntSecondDefault(x.AckTimeoutSec, gwbridge.DefaultAckTimeout),
	}
	if bc.Broker == "" {
		bc.Broker = "tcp://localhost:1883"
	}
	errs := make([]error, 0, 4)
	unmarshal := func(name, s string, dst interface{ UnmarshalText([]byte) error }) {
		if s == "" {
			errs = append(errs, errors.NotValidf("config network.gwbridge.%s=empty", name))
			return
		}
		if err := dst.UnmarshalText([]byte(s)); err != nil {
			errs = append(errs, errors.Annotatef(err, "config network.gwbridge.%s", name))
		}
	}
	gwid := x.GatewayID
	if gwid == "" {
		gwid = "0102030405060708"
	}
	unmarshal("gateway_id", gwid, &bc.GatewayID)
	unmarshal("dev_eui", x.DevEUI, &bc.DevEUI)
	unmarshal("join_eui", x.JoinEUI, &bc.JoinEUI)
	unmarshal("app_key", x.AppKey, &bc.AppKey)
	return bc, helpers.FoldErrors(errs)
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	nonNegative := func(name string, v int) {
		if v < 0 {
			errs = append(errs, errors.NotValidf("config %s=%d", name, v))
		}
	}
	nonNegative("tx_interval_sec", c.TxIntervalSec)
	nonNegative("join.max_attempts", c.Join.MaxAttempts)
	nonNegative("join.retry_interval_sec", c.Join.RetryIntervalSec)
	nonNegative("uplink.max_attempts", c.Uplink.MaxAttempts)
	nonNegative("uplink.retry_delay_sec", c.Uplink.RetryDelaySec)
	nonNegative("watchdog.timeout_sec", c.Watchdog.TimeoutSec)
	nonNegative("network.sim.join_failures", c.Network.Sim.JoinFailures)
	nonNegative("network.sim.send_failures", c.Network.Sim.SendFailures)
	if c.Uplink.Port < 0 || c.Uplink.Port > maxAppPort {
		errs = append(errs, errors.NotValidf("config uplink.port=%d valid: 1-%d", c.Uplink.Port, maxAppPort))
	}
	if r := c.Network.Sim.FailRate; r < 0 || r > 1 {
		errs = append(errs, errors.NotValidf("config network.sim.fail_rate=%v valid: 0-1", r))
	}
	if c.Sensor.I2CAddr < 0 || c.Sensor.I2CAddr > 0x7f {
		errs = append(errs, errors.NotValidf("config sensor.i2c_addr=%d", c.Sensor.I2CAddr))
	}

	switch d := c.WatchdogDriver(); d {
	case WatchdogSystemd, WatchdogDev, WatchdogSoft, WatchdogNone:
	default:
		errs = append(errs, errors.NotValidf("config watchdog.driver=%s valid: systemd, dev, soft, none", d))
	}
	switch d := c.SensorDriver(); d {
	case SensorSim, SensorBME280:
	default:
		errs = append(errs, errors.NotValidf("config sensor.driver=%s valid: sim, bme280", d))
	}
	switch d := c.NetworkDriver(); d {
	case NetworkSim:
	case NetworkGWBridge:
		bc, err := c.Bridge()
		if err != nil {
			errs = append(errs, err)
		}
		// one join or send round trip runs between two feeds
		if wt := c.WatchdogTimeout(); c.WatchdogDriver() != WatchdogNone {
			if bc.JoinTimeout >= wt {
				errs = append(errs, errors.NotValidf("config network.gwbridge.join_timeout_sec=%v must be below watchdog timeout=%v", bc.JoinTimeout, wt))
			}
			if bc.AckTimeout >= wt {
				errs = append(errs, errors.NotValidf("config network.gwbridge.ack_timeout_sec=%v must be below watchdog timeout=%v", bc.AckTimeout, wt))
			}
		}
	default:
		errs = append(errs, errors.NotValidf("config network.driver=%s valid: sim, gwbridge", d))
	}

	if _, err := c.Key(); err != nil {
		errs = append(errs, err)
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) String() string {
	return fmt.Sprintf("sensor=%s network=%s watchdog=%s timeout=%v", c.SensorDriver(), c.NetworkDriver(), c.WatchdogDriver(), c.WatchdogTimeout())
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func intDefault(x, def int) int {
	if x == 0 {
		return def
	}
	return x
}
