package core

import (
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"strings"

	"github.com/please-build/gcfg"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("core")

// OsArch identifies the host platform, used as the default target
// configuration when none is specified on the command line.
const OsArch = runtime.GOOS + "_" + runtime.GOARCH

// ConfigFileName is the repo-root config file name.
const ConfigFileName = ".forgeconfig"

// LocalConfigFileName overrides ConfigFileName on one checkout and is not
// normally checked in.
const LocalConfigFileName = ".forgeconfig.local"

// Configuration is the core's view of repo + command configuration. It is
// read via gcfg (an ini-like format) and is otherwise a plain value,
// constructed once at the command boundary and threaded explicitly into
// every subsystem that needs it, never read from a package-level
// variable.
type Configuration struct {
	Parse struct {
		BuildFileName         []string `gcfg:"buildfilename"`
		PackageBoundaryCheck  bool     `gcfg:"packageboundarycheck"`
		ImplicitPackageConfig string   `gcfg:"implicitpackageconfig"`
	}
	Build struct {
		NumThreads int  `gcfg:"numthreads"`
		KeepGoing  bool `gcfg:"keepgoing"`
		Timeout    int  `gcfg:"timeout"`
		// FileHashMode toggles whether rule keys hash file contents or
		// only each file's path string.
		FileHashMode   string `gcfg:"filehashmode"`
		HashFunction   string `gcfg:"hashfunction"`
		KeyedHashSeed  string `gcfg:"keyedhashseed"`
		VersionedGraph bool   `gcfg:"versionedgraph"`
	}
	Cache struct {
		Dir           string `gcfg:"dir"`
		DirClean      bool   `gcfg:"dirclean"`
		HTTPURL       string `gcfg:"httpurl"`
		HTTPWriteable bool   `gcfg:"httpwriteable"`
		Workers       int    `gcfg:"workers"`
	}
	Metrics struct {
		PushGatewayURL string `gcfg:"pushgatewayurl"`
		// PushFrequencySecs and PushTimeoutSecs are seconds rather than
		// time.Duration since gcfg has no duration coercer of its own.
		PushFrequencySecs int  `gcfg:"pushfrequencysecs"`
		PushTimeoutSecs   int  `gcfg:"pushtimeoutsecs"`
		PerUser           bool `gcfg:"peruser"`
	}
	CustomMetricLabels map[string]string `gcfg:"custommetriclabel"`
}

// DefaultConfiguration returns the defaults that apply before any
// config file is read.
func DefaultConfiguration() *Configuration {
	c := &Configuration{}
	c.Parse.BuildFileName = []string{"BUILD"}
	c.Parse.PackageBoundaryCheck = true
	c.Build.FileHashMode = "PATHS_AND_CONTENTS"
	c.Build.HashFunction = "xxhash"
	c.Cache.Workers = 4
	c.Build.NumThreads = runtime.NumCPU()
	c.Metrics.PushFrequencySecs = 2
	c.Metrics.PushTimeoutSecs = 5
	return c
}

// ReadConfigFiles reads all the given config locations in order, merging
// them on top of DefaultConfiguration; later files override earlier
// ones.
func ReadConfigFiles(filenames []string) (*Configuration, error) {
	config := DefaultConfiguration()
	for _, filename := range filenames {
		if err := readConfigFile(config, filename); err != nil {
			return config, err
		}
	}
	return config, nil
}

// ApplyOverrides applies "section.key=value" command-line overrides on
// top of a file-loaded Configuration. Section and key are matched
// case-insensitively against the struct's gcfg tags; values are coerced
// to the field's type.
func (c *Configuration) ApplyOverrides(overrides map[string]string) error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for k, value := range overrides {
		section, key, ok := strings.Cut(k, ".")
		if !ok {
			return fmt.Errorf("bad config override %q, should be section.key=value", k)
		}
		sectionField := fieldByName(v, t, section)
		if !sectionField.IsValid() || sectionField.Kind() != reflect.Struct {
			return fmt.Errorf("unknown config section %q", section)
		}
		field := fieldByName(sectionField, sectionField.Type(), key)
		if !field.IsValid() {
			return fmt.Errorf("unknown config key %q in section %q", key, section)
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("config override %s: %w", k, err)
		}
	}
	return nil
}

func fieldByName(v reflect.Value, t reflect.Type, name string) reflect.Value {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("gcfg")
		if strings.EqualFold(f.Name, name) || (tag != "" && strings.EqualFold(tag, name)) {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("can't override field of type %s", field.Type())
		}
		field.Set(reflect.ValueOf(strings.Split(value, ",")))
	default:
		return fmt.Errorf("can't override field of type %s", field.Type())
	}
	return nil
}

func readConfigFile(config *Configuration, filename string) error {
	log.Debug("reading config from %s", filename)
	if err := gcfg.ReadFileInto(config, filename); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if gcfg.FatalOnly(err) != nil {
			return fmt.Errorf("reading %s: %w", filename, err)
		}
		log.Warning("non-fatal error in config file %s: %s", filename, err)
	}
	return nil
}
