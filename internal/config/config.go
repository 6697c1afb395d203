package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

// Config holds all application configuration values.
type Config struct {
	Variant  measurement.Variant
	DeviceID string

	// Hardware
	I2CBus             string // empty selects the first bus periph finds
	AS5600Addr         uint16
	MCP9808Addr        uint16
	SHT45Addr          uint16
	PCBTempOffset      float32 // °C added to the MCP9808 reading
	ButtonCalibratePin string
	ButtonZeroPin      string
	DialClockPin       string
	DialDataPin        string
	DialDataInverted   bool

	// Calibration
	CalibrationFile      string
	CalibrationNamespace string
	TravelLengthUM       int32
	GapAngle             int32

	// Dial decoder
	DialClockTimeout time.Duration
	DialReadTimeout  time.Duration

	// Environmental sensor
	EnvSensorEnabled bool
	// EnvFailureValue picks what the display and logs show for a failed
	// environmental read. The uplink frame always carries the invalid
	// markers (0x8000, humidity 0xFF).
	EnvFailureValue  measurement.FailurePolicy

	// Payload
	FrameLayout int
	UplinkFPort uint8

	// Timing
	MinimumDelay        time.Duration
	DutyCycleEnabled    bool
	DutyCycleMsPerHour  uint32
	LoRaSpreadingFactor int

	// Display
	DisplayEnabled bool
	DisplayHold    time.Duration

	// Transport
	Transport            string // "modem" or "mqtt"
	ModemSerialPort      string
	ModemBaudRate        uint
	MQTTBroker           string
	MQTTClientIDMonitor  string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string
	TopicUplink          string // %s is replaced with DeviceID
	TopicUplinkSubscribe string

	// Sleep
	SleepMode       string // "process" or "rtc"
	RTCWakeAlarm    string
	ShutdownCommand []string

	// Battery
	BatterySupply string

	// Web Server
	WebServerPort int
}

// Defaults returns a configuration with every optional key set.
func Defaults() *Config {
	return &Config{
		Variant:  measurement.Rotary,
		DeviceID: "crackmon-01",

		AS5600Addr:         0x36,
		MCP9808Addr:        0x1F,
		SHT45Addr:          0x44,
		PCBTempOffset:      -1.0,
		ButtonCalibratePin: "GPIO20",
		ButtonZeroPin:      "GPIO19",
		DialClockPin:       "GPIO17",
		DialDataPin:        "GPIO27",

		CalibrationFile:      "./crackmon_nvs.yaml",
		CalibrationNamespace: "crackMon",
		TravelLengthUM:       49400,
		GapAngle:             150,

		DialClockTimeout: 1000 * time.Microsecond,
		DialReadTimeout:  2000 * time.Millisecond,

		EnvSensorEnabled: true,
		EnvFailureValue:  measurement.FailNaN,

		FrameLayout: 10,
		UplinkFPort: 1,

		MinimumDelay:        1200 * time.Second,
		DutyCycleEnabled:    true,
		DutyCycleMsPerHour:  1250,
		LoRaSpreadingFactor: 9,

		DisplayEnabled: true,
		DisplayHold:    2000 * time.Millisecond,

		Transport:            "modem",
		ModemSerialPort:      "/dev/ttyUSB0",
		ModemBaudRate:        57600,
		MQTTClientIDMonitor:  "crackmon-monitor",
		MQTTClientIDConsole:  "crackmon-console",
		MQTTClientIDWeb:      "crackmon-web",
		TopicUplink:          "v3/crack-monitoring@ttn/devices/%s/up",
		TopicUplinkSubscribe: "v3/+/devices/+/up",

		SleepMode:       "process",
		RTCWakeAlarm:    "/sys/class/rtc/rtc0/wakealarm",
		ShutdownCommand: []string{"poweroff"},

		BatterySupply: "/sys/class/power_supply/battery/capacity",

		WebServerPort: 8080,
	}
}

// Package-level singleton: InitGlobal sets it once, Get reads it under the
// read lock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file on top of Defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE lines from r on top of Defaults and validates the result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Defaults()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error

	switch key {
	case "VARIANT":
		switch v := measurement.Variant(strings.ToLower(value)); v {
		case measurement.Rotary, measurement.Dial:
			c.Variant = v
		default:
			return fmt.Errorf("VARIANT must be rotary or dial, got %q", value)
		}
	case "DEVICE_ID":
		c.DeviceID = value

	// Hardware
	case "I2C_BUS":
		c.I2CBus = value
	case "AS5600_ADDR":
		c.AS5600Addr, err = parseAddr(key, value)
	case "MCP9808_ADDR":
		c.MCP9808Addr, err = parseAddr(key, value)
	case "SHT45_ADDR":
		c.SHT45Addr, err = parseAddr(key, value)
	case "PCB_TEMP_OFFSET":
		f, perr := strconv.ParseFloat(value, 32)
		if perr != nil {
			return fmt.Errorf("invalid PCB_TEMP_OFFSET %q: %w", value, perr)
		}
		c.PCBTempOffset = float32(f)
	case "BUTTON_CALIBRATE_PIN":
		c.ButtonCalibratePin = value
	case "BUTTON_ZERO_PIN":
		c.ButtonZeroPin = value
	case "DIAL_CLOCK_PIN":
		c.DialClockPin = value
	case "DIAL_DATA_PIN":
		c.DialDataPin = value
	case "DIAL_DATA_INVERTED":
		c.DialDataInverted, err = parseBool(key, value)

	// Calibration
	case "CALIBRATION_FILE":
		c.CalibrationFile = value
	case "CALIBRATION_NAMESPACE":
		c.CalibrationNamespace = value
	case "TRAVEL_LENGTH_UM":
		val, perr := strconv.ParseInt(value, 10, 32)
		if perr != nil {
			return fmt.Errorf("invalid TRAVEL_LENGTH_UM %q: %w", value, perr)
		}
		c.TravelLengthUM = int32(val)
	case "GAP_ANGLE":
		val, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid GAP_ANGLE %q: %w", value, perr)
		}
		if val < 0 || val >= 2048 {
			return fmt.Errorf("GAP_ANGLE must be 0-2047, got %d", val)
		}
		c.GapAngle = int32(val)

	// Dial decoder
	case "DIAL_CLOCK_TIMEOUT_US":
		c.DialClockTimeout, err = parseDuration(key, value, time.Microsecond)
	case "DIAL_READ_TIMEOUT_MS":
		c.DialReadTimeout, err = parseDuration(key, value, time.Millisecond)

	// Environmental sensor
	case "ENV_SENSOR_ENABLED":
		c.EnvSensorEnabled, err = parseBool(key, value)
	case "ENV_FAILURE_VALUE":
		switch strings.ToLower(value) {
		case "nan":
			c.EnvFailureValue = measurement.FailNaN
		case "sentinel":
			c.EnvFailureValue = measurement.FailSentinel
		default:
			return fmt.Errorf("ENV_FAILURE_VALUE must be nan or sentinel, got %q", value)
		}

	// Payload
	case "FRAME_LAYOUT":
		val, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid FRAME_LAYOUT %q: %w", value, perr)
		}
		c.FrameLayout = val
	case "UPLINK_FPORT":
		val, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid UPLINK_FPORT %q: %w", value, perr)
		}
		if val < 1 || val > 223 {
			return fmt.Errorf("UPLINK_FPORT must be 1-223, got %d", val)
		}
		c.UplinkFPort = uint8(val)

	// Timing
	case "MINIMUM_DELAY_S":
		c.MinimumDelay, err = parseDuration(key, value, time.Second)
	case "DUTY_CYCLE_ENABLED":
		c.DutyCycleEnabled, err = parseBool(key, value)
	case "DUTY_CYCLE_MS_PER_HOUR":
		val, perr := strconv.ParseUint(value, 10, 32)
		if perr != nil {
			return fmt.Errorf("invalid DUTY_CYCLE_MS_PER_HOUR %q: %w", value, perr)
		}
		if val == 0 {
			return fmt.Errorf("DUTY_CYCLE_MS_PER_HOUR must be > 0")
		}
		c.DutyCycleMsPerHour = uint32(val)
	case "LORA_SPREADING_FACTOR":
		val, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid LORA_SPREADING_FACTOR %q: %w", value, perr)
		}
		if val < 7 || val > 12 {
			return fmt.Errorf("LORA_SPREADING_FACTOR must be 7-12, got %d", val)
		}
		c.LoRaSpreadingFactor = val

	// Display
	case "DISPLAY_ENABLED":
		c.DisplayEnabled, err = parseBool(key, value)
	case "DISPLAY_HOLD_MS":
		c.DisplayHold, err = parseDuration(key, value, time.Millisecond)

	// Transport
	case "TRANSPORT":
		switch v := strings.ToLower(value); v {
		case "modem", "mqtt":
			c.Transport = v
		default:
			return fmt.Errorf("TRANSPORT must be modem or mqtt, got %q", value)
		}
	case "MODEM_SERIAL_PORT":
		c.ModemSerialPort = value
	case "MODEM_BAUD_RATE":
		rate, perr := strconv.ParseUint(value, 10, 32)
		if perr != nil {
			return fmt.Errorf("invalid MODEM_BAUD_RATE %q: %w", value, perr)
		}
		c.ModemBaudRate = uint(rate)
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_MONITOR":
		c.MQTTClientIDMonitor = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "TOPIC_UPLINK":
		c.TopicUplink = value
	case "TOPIC_UPLINK_SUBSCRIBE":
		c.TopicUplinkSubscribe = value

	// Sleep
	case "SLEEP_MODE":
		switch v := strings.ToLower(value); v {
		case "process", "rtc":
			c.SleepMode = v
		default:
			return fmt.Errorf("SLEEP_MODE must be process or rtc, got %q", value)
		}
	case "RTC_WAKEALARM":
		c.RTCWakeAlarm = value
	case "SHUTDOWN_COMMAND":
		c.ShutdownCommand = strings.Fields(value)

	// Battery
	case "BATTERY_SUPPLY":
		c.BatterySupply = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, perr)
		}
		c.WebServerPort = port

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseAddr(key, value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if addr > 0x7F {
		return 0, fmt.Errorf("%s must be a 7-bit address, got 0x%X", key, addr)
	}
	return uint16(addr), nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

func parseDuration(key, value string, unit time.Duration) (time.Duration, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, n)
	}
	return time.Duration(n) * unit, nil
}

// validate checks cross-field constraints and required fields.
func (c *Config) validate() error {
	if c.FrameLayout != 9 && c.FrameLayout != 10 {
		return fmt.Errorf("FRAME_LAYOUT must be 9 or 10, got %d", c.FrameLayout)
	}
	if c.TravelLengthUM <= 0 {
		return fmt.Errorf("TRAVEL_LENGTH_UM must be > 0")
	}
	if c.CalibrationFile == "" {
		return fmt.Errorf("CALIBRATION_FILE is required")
	}
	switch c.Transport {
	case "mqtt":
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT_BROKER is required when TRANSPORT=mqtt")
		}
	case "modem":
		if c.ModemSerialPort == "" {
			return fmt.Errorf("MODEM_SERIAL_PORT is required when TRANSPORT=modem")
		}
	}
	if c.SleepMode == "rtc" && len(c.ShutdownCommand) == 0 {
		return fmt.Errorf("SHUTDOWN_COMMAND is required when SLEEP_MODE=rtc")
	}
	if c.Variant == measurement.Dial {
		if err := c.validateDialPins(); err != nil {
			return err
		}
	}
	return nil
}

// i2c1Pins are taken by the Raspberry Pi I2C1 bus (SDA, SCL).
var i2c1Pins = map[string]bool{"GPIO2": true, "GPIO3": true}

// validateDialPins rejects dial lines that share a pin with a button or,
// when the display needs the default bus, with I2C1.
func (c *Config) validateDialPins() error {
	if c.DialClockPin == c.DialDataPin {
		return fmt.Errorf("DIAL_CLOCK_PIN and DIAL_DATA_PIN must differ, both are %s", c.DialClockPin)
	}
	usesI2C1 := c.DisplayEnabled && (c.I2CBus == "" || c.I2CBus == "1")
	for key, pin := range map[string]string{"DIAL_CLOCK_PIN": c.DialClockPin, "DIAL_DATA_PIN": c.DialDataPin} {
		if pin == c.ButtonCalibratePin || pin == c.ButtonZeroPin {
			return fmt.Errorf("%s=%s is also a button pin", key, pin)
		}
		if usesI2C1 && i2c1Pins[pin] {
			return fmt.Errorf("%s=%s is an I2C1 pin, used by the display bus", key, pin)
		}
	}
	return nil
}

// InitGlobal initializes the global configuration from file. Only the first
// call loads; later calls return nil.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
