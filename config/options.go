// Package config reads pool options from connection properties, the
// environment and daemon pool files.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Property keys. Each is also accepted without the "poolman:" prefix.
const (
	KeyDebugLevel         = "poolman:debugLevel"
	KeyDebugLog           = "poolman:debugLog"
	KeyErrorLog           = "poolman:errorLog"
	KeyDriver             = "poolman:driver"
	KeyCloseCheckInterval = "poolman:closeCheckIntervalSec"
	KeyLeakJournal        = "poolman:leakJournal"
	KeyName               = "poolman:name"
)

// envKeys maps property keys to the environment variable consulted when
// the property is absent
var envKeys = map[string]string{
	KeyDebugLevel:         "POOLMAN_DEBUG_LEVEL",
	KeyDebugLog:           "POOLMAN_DEBUG_LOG",
	KeyErrorLog:           "POOLMAN_ERROR_LOG",
	KeyDriver:             "POOLMAN_DRIVER",
	KeyCloseCheckInterval: "POOLMAN_CLOSE_CHECK_INTERVAL_SEC",
	KeyLeakJournal:        "POOLMAN_LEAK_JOURNAL",
}

// DefaultCloseCheckInterval matches pool.DefaultCloseCheckInterval
const DefaultCloseCheckInterval = 60 * time.Second

// Options is the parsed configuration of one pool
type Options struct {
	// Name labels the pool in logs, metrics and the leak journal
	Name string
	// DebugLevel is 0 (errors only), 1 (leak warnings) or 2 (every lease event)
	DebugLevel int
	// DebugLog is a file for non-error records. Empty means stdout.
	DebugLog string
	// ErrorLog is a file for error records. Empty means stderr.
	ErrorLog string
	// Driver names the session driver used to create connections
	Driver string
	// CloseCheckInterval is the pause between leak scans
	CloseCheckInterval time.Duration
	// LeakJournal is a directory for the leak journal. Empty disables it.
	LeakJournal string
}

// Defaults returns the options used for every key that is not set
func Defaults() Options {
	return Options{
		CloseCheckInterval: DefaultCloseCheckInterval,
	}
}

// OptionError reports a value that could not be parsed. The option keeps
// its default.
type OptionError struct {
	Key   string
	Value string
	Err   error
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("illegal %s [%s]: %v", e.Key, e.Value, e.Err)
}

func (e *OptionError) Unwrap() error {
	return e.Err
}

// Parse reads options from props, falling back to the process environment
func Parse(props map[string]string) (Options, []*OptionError) {
	return ParseEnv(props, os.LookupEnv)
}

// ParseEnv is Parse with an explicit environment lookup
func ParseEnv(props map[string]string, lookupEnv func(string) (string, bool)) (Options, []*OptionError) {
	opts := Defaults()
	var errs []*OptionError

	get := func(key string) (string, bool) {
		if v, ok := props[key]; ok {
			return v, true
		}
		if v, ok := props[strings.TrimPrefix(key, "poolman:")]; ok {
			return v, true
		}
		if env, ok := envKeys[key]; ok && lookupEnv != nil {
			return lookupEnv(env)
		}
		return "", false
	}

	if v, ok := get(KeyName); ok {
		opts.Name = strings.TrimSpace(v)
	}
	if v, ok := get(KeyDebugLevel); ok {
		n, err := cast.ToIntE(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, &OptionError{Key: KeyDebugLevel, Value: v, Err: err})
		} else {
			opts.DebugLevel = n
		}
	}
	if v, ok := get(KeyDebugLog); ok {
		opts.DebugLog = strings.TrimSpace(v)
	}
	if v, ok := get(KeyErrorLog); ok {
		opts.ErrorLog = strings.TrimSpace(v)
	}
	if v, ok := get(KeyDriver); ok {
		opts.Driver = strings.TrimSpace(v)
	}
	if v, ok := get(KeyCloseCheckInterval); ok {
		sec, err := cast.ToInt64E(strings.TrimSpace(v))
		switch {
		case err != nil:
			errs = append(errs, &OptionError{Key: KeyCloseCheckInterval, Value: v, Err: err})
		case sec <= 0:
			errs = append(errs, &OptionError{Key: KeyCloseCheckInterval, Value: v, Err: fmt.Errorf("must be positive")})
		default:
			opts.CloseCheckInterval = time.Duration(sec) * time.Second
		}
	}
	if v, ok := get(KeyLeakJournal); ok {
		opts.LeakJournal = strings.TrimSpace(v)
	}

	return opts, errs
}

// Canonical encodes props as a stable string: keys sorted, each pair
// written as key=value with '\', '=' and ';' escaped.
func Canonical(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	esc := strings.NewReplacer(`\`, `\\`, `=`, `\=`, `;`, `\;`)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(esc.Replace(k))
		b.WriteByte('=')
		b.WriteString(esc.Replace(props[k]))
	}
	return b.String()
}
