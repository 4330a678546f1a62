// Package config loads barrel's daemon configuration: transports, logging,
// and declarative services, routes and schedules.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bjaus/barrel"
	"github.com/bjaus/barrel/logx"
)

// Config is the whole configuration file.
type Config struct {
	Log       logx.Config     `json:"log" envPrefix:"LOG_"`
	HTTP      HTTPConfig      `json:"http" envPrefix:"HTTP_"`
	Scheduler SchedulerConfig `json:"scheduler" envPrefix:"SCHEDULER_"`
	NATS      NATSConfig      `json:"nats" envPrefix:"NATS_"`
	AMQP      AMQPConfig      `json:"amqp" envPrefix:"AMQP_"`
	Kafka     KafkaConfig     `json:"kafka" envPrefix:"KAFKA_"`

	Services  []ServiceConfig  `json:"services,omitempty"`
	Routes    []RouteConfig    `json:"routes,omitempty"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Addr    string `json:"addr" env:"ADDR"`
	Route   string `json:"route" env:"ROUTE"`
	Method  string `json:"method" env:"METHOD"`
	// ResponseTimeout bounds how long a request waits for a listener to
	// respond, e.g. "10s". Empty means 30s.
	ResponseTimeout string `json:"response_timeout" env:"RESPONSE_TIMEOUT"`
	// TickRoute, when set, exposes the polled scheduler tick.
	TickRoute string `json:"tick_route" env:"TICK_ROUTE"`
}

// Timeout returns the parsed response timeout.
func (c HTTPConfig) Timeout() (time.Duration, error) {
	return ParseDurationOrDefault("http.response_timeout", c.ResponseTimeout, 30*time.Second)
}

type SchedulerConfig struct {
	// Mode is "system" or "polled".
	Mode     string `json:"mode" env:"MODE"`
	Timezone string `json:"timezone" env:"TIMEZONE"`
}

// Location resolves Timezone; empty means the local zone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// SchedulerMode resolves Mode; empty means system.
func (c SchedulerConfig) SchedulerMode() (barrel.Mode, error) {
	switch m := barrel.Mode(strings.ToLower(strings.TrimSpace(c.Mode))); m {
	case "":
		return barrel.ModeSystem, nil
	case barrel.ModeSystem, barrel.ModePolled:
		return m, nil
	default:
		return "", fmt.Errorf("scheduler.mode: unknown mode %q", c.Mode)
	}
}

type NATSConfig struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	URL     string `json:"url" env:"URL"`
	Subject string `json:"subject" env:"SUBJECT"`
	Queue   string `json:"queue" env:"QUEUE"`
}

type AMQPConfig struct {
	Enabled  bool   `json:"enabled" env:"ENABLED"`
	URL      string `json:"url" env:"URL"`
	Queue    string `json:"queue" env:"QUEUE"`
	Prefetch int    `json:"prefetch" env:"PREFETCH"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" env:"ENABLED"`
	Brokers []string `json:"brokers" env:"BROKERS" envSeparator:","`
	Topics  []string `json:"topics" env:"TOPICS" envSeparator:","`
	Group   string   `json:"group" env:"GROUP"`
}

// ServiceConfig declares a service whose requests are templates. Every
// ${name} in a request is filled from the first call argument.
type ServiceConfig struct {
	Name       string                   `json:"name"`
	Headers    map[string]string        `json:"headers,omitempty"`
	Bearer     string                   `json:"bearer,omitempty"`
	Basic      *barrel.BasicAuth        `json:"basic,omitempty"`
	URLEncoded bool                     `json:"urlencoded,omitempty"`
	RateLimit  float64                  `json:"rate_limit,omitempty"`
	Burst      int                      `json:"burst,omitempty"`
	Requests   map[string]RequestConfig `json:"requests"`
}

type RequestConfig struct {
	Method     string            `json:"method,omitempty"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`
	Query      map[string]any    `json:"query,omitempty"`
	Data       any               `json:"data,omitempty"`
	Bearer     string            `json:"bearer,omitempty"`
	Basic      *barrel.BasicAuth `json:"basic,omitempty"`
	URLEncoded bool              `json:"urlencoded,omitempty"`
}

// RouteConfig binds a pattern to a service call. The call receives the
// first matched value.
type RouteConfig struct {
	// Pattern is a key, a JSONPath expression or an object shape. In shapes
	// "*" matches any value and "/src/flags" strings are regular expressions.
	Pattern any    `json:"pattern"`
	Call    string `json:"call"`
	Respond bool   `json:"respond,omitempty"`
	Where   string `json:"where,omitempty"`
	Trim    *bool  `json:"trim,omitempty"`
}

// ScheduleConfig fires Pattern's message on Cron, or on Fields when Cron
// is empty.
type ScheduleConfig struct {
	Pattern any                `json:"pattern"`
	Cron    string             `json:"cron,omitempty"`
	Fields  *barrel.CronFields `json:"fields,omitempty"`
}

// Expression returns the cron expression of the schedule.
func (s ScheduleConfig) Expression() string {
	if strings.TrimSpace(s.Cron) != "" || s.Fields == nil {
		return s.Cron
	}
	return s.Fields.Expression()
}

// ParseDurationOrDefault parses raw, returning def when raw is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
