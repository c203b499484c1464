// Command raceevent drives one upload event or rescan pass for a release,
// grounded on original_source/zipscript/src/race-file.c's per-call
// lock/ingest/write_race/testfiles sequence and the teacher's pflag-based
// flag parsing (internal/cli/run.go).
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/somecodingdude/pzs-ng/internal/diag"
	"github.com/somecodingdude/pzs-ng/internal/lockmgr"
	"github.com/somecodingdude/pzs-ng/internal/raceconfig"
	"github.com/somecodingdude/pzs-ng/internal/racedata"
	"github.com/somecodingdude/pzs-ng/internal/racefs"
	"github.com/somecodingdude/pzs-ng/internal/raceupload"
)

// progCode identifies raceevent as the lock holder type (spec.md §4.2's
// prog_code); rescan and upload share one caller identity since they never
// run concurrently against the same release from this binary.
const progCode = 1

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
	flags := flag.NewFlagSet("raceevent", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {}
	flags.SetOutput(&strings.Builder{})

	flagConfig := flags.StringP("config", "c", "", "Use specified config `file`")
	flagGlftpdPath := flags.String("glftpd-path", "", "chroot to `dir` before operating (site-path is then relative to it)")

	if err := flags.Parse(args[1:]); err != nil {
		fmt.Fprintln(errOut, "raceevent: error:", err)
		return 1
	}

	rest := flags.Args()
	if len(rest) == 0 {
		printUsage(errOut)
		return 1
	}

	if *flagGlftpdPath != "" {
		if err := unix.Chroot(*flagGlftpdPath); err != nil {
			fmt.Fprintln(errOut, "raceevent: chroot:", err)
			return 1
		}
	}

	switch rest[0] {
	case "upload":
		return runUpload(rest[1:], *flagConfig, env, errOut)
	case "rescan":
		return runRescan(rest[1:], *flagConfig, env, errOut)
	default:
		printUsage(errOut)
		return 1
	}
}

func printUsage(errOut *os.File) {
	fmt.Fprintln(errOut, "usage: raceevent [--glftpd-path dir] [--config file] upload <site-path> <fname> <uname> <group> <size> <speed>")
	fmt.Fprintln(errOut, "   or: raceevent [--glftpd-path dir] [--config file] rescan <site-path>")
}

func runUpload(args []string, configPath string, env map[string]string, errOut *os.File) int {
	if len(args) != 6 {
		printUsage(errOut)
		return 1
	}

	sitePath, fname, uname, group := args[0], args[1], args[2], args[3]

	size, err := strconv.ParseUint(args[4], 10, 64)
	if err != nil {
		fmt.Fprintln(errOut, "raceevent: invalid size:", err)
		return 1
	}

	speed, err := strconv.ParseUint(args[5], 10, 64)
	if err != nil {
		fmt.Fprintln(errOut, "raceevent: invalid speed:", err)
		return 1
	}

	cfg, rc, err := setup(configPath, env, sitePath)
	if err != nil {
		fmt.Fprintln(errOut, "raceevent:", err)
		return 1
	}

	entry := racedata.RaceEntry{
		Status:    racedata.NotChecked,
		Fname:     fname,
		Uname:     uname,
		Group:     group,
		Size:      size,
		Speed:     speed,
		StartTime: time.Now().Unix(),
	}

	if cfg.Lowercase {
		entry.Fname = strings.ToLower(entry.Fname)
	}

	result, err := rc.WithLock(lockmgr.ModeDefault, false, func(handle *lockmgr.Handle) error {
		sfvPath := rc.ReleaseDir + "/" + firstSfvName(rc)

		if first, ferr := isFirstEncounter(rc); ferr == nil && first {
			if _, ierr := rc.IngestSfv(handle, sfvPath); ierr != nil {
				return ierr
			}
		}

		crc, cerr := rc.LookupCrc(entry.Fname)
		if cerr != nil {
			return cerr
		}

		entry.Crc32 = crc

		return rc.WriteUploadEvent(entry)
	})
	if err != nil {
		fmt.Fprintln(errOut, "raceevent: upload:", err)
		return 1
	}

	if result.Outcome != lockmgr.Acquired {
		fmt.Fprintln(errOut, "raceevent: lock not acquired:", result.Outcome)
		return 1
	}

	return 0
}

func runRescan(args []string, configPath string, env map[string]string, errOut *os.File) int {
	if len(args) != 1 {
		printUsage(errOut)
		return 1
	}

	sitePath := args[0]

	_, rc, err := setup(configPath, env, sitePath)
	if err != nil {
		fmt.Fprintln(errOut, "raceevent:", err)
		return 1
	}

	result, err := rc.WithLock(lockmgr.ModeDefault, true, func(handle *lockmgr.Handle) error {
		return rc.Rescan(handle)
	})
	if err != nil {
		fmt.Fprintln(errOut, "raceevent: rescan:", err)
		return 1
	}

	if result.Outcome != lockmgr.Acquired {
		fmt.Fprintln(errOut, "raceevent: lock not acquired:", result.Outcome)
		return 1
	}

	return 0
}

func setup(configPath string, env map[string]string, sitePath string) (raceconfig.Config, *raceupload.Context, error) {
	cfg, err := raceconfig.Load(raceconfig.LoadInput{ConfigPath: configPath, Env: env})
	if err != nil {
		return raceconfig.Config{}, nil, fmt.Errorf("config: %w", err)
	}

	fs := racefs.NewReal()
	rc := raceupload.New(fs, cfg, diag.Stderr, progCode, sitePath, sitePath)

	return cfg, rc, nil
}

// isFirstEncounter reports whether this release has no sfv state yet,
// the way copysfv is only invoked on the first upload event for a release
// (spec.md §2: "invokes SFV Ingest on first encounter").
func isFirstEncounter(rc *raceupload.Context) (bool, error) {
	exists, err := rc.FS.Exists(rc.Config.StorageRoot + "/" + rc.RelPath + "/sfv")
	if err != nil {
		return false, err
	}

	return !exists, nil
}

// firstSfvName locates the textual SFV in the release directory: the
// first file the directory listing turns up with a ".sfv" extension.
func firstSfvName(rc *raceupload.Context) string {
	entries, err := rc.FS.ReadDir(rc.ReleaseDir)
	if err != nil {
		return "release.sfv"
	}

	for _, e := range entries {
		if strings.HasSuffix(strings.ToLower(e.Name()), ".sfv") {
			return e.Name()
		}
	}

	return "release.sfv"
}
