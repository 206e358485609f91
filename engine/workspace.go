package engine

import (
	"path/filepath"
	"strings"

	"github.com/thought-machine/forge/label"
)

// OutputDir derives a rule's output directory deterministically from
// its target: <out>/gen/<base_path>/<short_name>__<flavors>__/, with the
// flavors' commas replaced by underscores. An unflavored target uses
// <out>/gen/<base_path>/<short_name>/, with no "__" part.
func OutputDir(outRoot string, target label.BuildTarget) string {
	suffix := target.Name
	if target.Flavors != "" {
		suffix += "__" + strings.ReplaceAll(target.Flavors, ",", "_") + "__"
	}
	return filepath.Join(outRoot, "gen", target.BasePath, suffix)
}

// ScratchDir derives a rule's transient working directory.
func ScratchDir(outRoot string, target label.BuildTarget) string {
	suffix := target.Name
	if target.Flavors != "" {
		suffix += "__" + strings.ReplaceAll(target.Flavors, ",", "_") + "__"
	}
	return filepath.Join(outRoot, "scratch", target.BasePath, suffix)
}
