// Command racestats prints a one-line upload summary for a release,
// grounded on original_source/zipscript/src/racestats.c's main/set_path.
package main

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/somecodingdude/pzs-ng/internal/raceconfig"
	"github.com/somecodingdude/pzs-ng/internal/racedata"
	"github.com/somecodingdude/pzs-ng/internal/racefs"
	"github.com/somecodingdude/pzs-ng/internal/statsfmt"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	os.Exit(run(os.Args, env, os.Stdout, os.Stderr))
}

func run(args []string, env map[string]string, out, errOut *os.File) int {
	flags := flag.NewFlagSet("racestats", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {}
	flags.SetOutput(&strings.Builder{})

	flagConfig := flags.StringP("config", "c", "", "Use specified config `file`")

	if err := flags.Parse(args[1:]); err != nil {
		fmt.Fprintln(errOut, "racestats: error:", err)
		return 1
	}

	rest := flags.Args()

	var glftpdPath, sitePath string

	switch len(rest) {
	case 1:
		sitePath = rest[0]
	case 2:
		glftpdPath, sitePath = rest[0], rest[1]
	default:
		fmt.Fprintln(errOut, "usage: racestats <chrooted-path> | racestats <glftpd-path> <site-path>")
		return 1
	}

	if glftpdPath != "" {
		if err := unix.Chroot(glftpdPath); err != nil {
			fmt.Fprintln(errOut, "racestats: chroot:", err)
			return 1
		}
	}

	if err := unix.Chdir(sitePath); err != nil {
		fmt.Fprintln(errOut, "racestats: chdir:", err)
		return 1
	}

	cfg, err := raceconfig.Load(raceconfig.LoadInput{ConfigPath: *flagConfig, Env: env})
	if err != nil {
		fmt.Fprintln(errOut, "racestats: config:", err)
		return 1
	}

	fs := racefs.NewReal()

	racedataPath := cfg.StorageRoot + "/" + sitePath + "/racedata"

	exists, err := fs.Exists(racedataPath)
	if err != nil {
		fmt.Fprintln(errOut, "racestats: stat:", err)
		return 1
	}

	if !exists {
		fmt.Fprintln(errOut, "racestats: no racedata for", sitePath)
		return 1
	}

	journal := racedata.NewJournal(fs, racedataPath, sitePath, !cfg.Lowercase)

	agg := statsfmt.NewAggregator()

	if err := journal.ReadRace(agg); err != nil {
		fmt.Fprintln(errOut, "racestats: read_race:", err)
		return 1
	}

	if agg.TotalUsers() == 0 {
		return 0
	}

	fmt.Fprintln(out, agg.FormatLine())

	return 0
}
