package main

import (
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tom/unomerge/internal/pipeline"
	"github.com/tom/unomerge/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "unomerge",
		Short: "Consolidate the UNOE and DOSE volumes into UNO",
		Long: `unomerge merges two legacy disk volumes into a single destination
under a declarative taxonomy, resolving content conflicts with a
deterministic newer/larger policy, recording per-file provenance, and
emitting a creation-time manifest for the Windows-side apply tool.

The pipeline runs nine phases in order (preflight, prepare, copy_unoe,
overlay_dose, resolve, verify_pre, dedupe, manifest, verify_post), each
individually invocable with --phase. State lives in a per-run log
directory on the destination volume, so any phase can be re-run with the
same --run-id.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runMerge,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.Flags().Bool("dry-run", false, "record decisions without destructive operations")
	rootCmd.Flags().String("phase", pipeline.PhaseAll, "phase to run (or 'all')")
	rootCmd.Flags().String("run-id", "", "run identifier (default: launch timestamp)")
	rootCmd.Flags().String("log-dir", "", "run directory location (default: on the destination volume)")
	rootCmd.Flags().Bool("self-test", false, "run internal self-checks without touching the volumes")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.Flags().BoolP("quiet", "q", false, "quiet output (errors only)")

	viper.BindPFlag("dry_run", rootCmd.Flags().Lookup("dry-run"))
	viper.BindPFlag("phase", rootCmd.Flags().Lookup("phase"))
	viper.BindPFlag("run_id", rootCmd.Flags().Lookup("run-id"))
	viper.BindPFlag("log_dir", rootCmd.Flags().Lookup("log-dir"))
	viper.BindPFlag("verbose", rootCmd.Flags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.Flags().Lookup("quiet"))
}

func initConfig() {
	// A local .env may override the volume roots on staging machines
	godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("unomerge")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("UNOMERGE")
	viper.AutomaticEnv()

	viper.SetDefault("unoe_root", pipeline.DefaultUnoeRoot)
	viper.SetDefault("dose_root", pipeline.DefaultDoseRoot)
	viper.SetDefault("dest_root", pipeline.DefaultDestRoot)
	viper.SetDefault("concurrency", 4)
	viper.SetDefault("dedupe_tool", "hardlink")
	viper.SetDefault("owner_user", "tom")
	viper.SetDefault("owner_group", "sambashare")

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func runMerge(cmd *cobra.Command, args []string) error {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	if selfTest, _ := cmd.Flags().GetBool("self-test"); selfTest {
		return runSelfTest()
	}

	runID := viper.GetString("run_id")
	if runID == "" {
		runID = pipeline.DefaultRunID(time.Now())
	}

	uid, gid := resolveOwner(viper.GetString("owner_user"), viper.GetString("owner_group"))

	cfg := pipeline.Config{
		UnoeRoot:    viper.GetString("unoe_root"),
		DoseRoot:    viper.GetString("dose_root"),
		DestRoot:    viper.GetString("dest_root"),
		LogDir:      viper.GetString("log_dir"),
		RunID:       runID,
		DryRun:      viper.GetBool("dry_run"),
		Concurrency: viper.GetInt("concurrency"),
		DedupeTool:  viper.GetString("dedupe_tool"),
		OwnerUID:    uid,
		OwnerGID:    gid,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller, err := pipeline.NewController(cfg)
	if err != nil {
		return err
	}
	defer controller.Close()

	util.InfoLog("Run directory: %s", controller.RunDir())

	if err := controller.Run(ctx, viper.GetString("phase")); err != nil {
		return fmt.Errorf("%w (run directory: %s)", err, controller.RunDir())
	}

	util.SuccessLog("Pipeline finished (run %s)", runID)
	return nil
}

// resolveOwner maps the configured destination owner to numeric ids,
// falling back to disabled normalization when the accounts do not exist
// (development machines, test runs).
func resolveOwner(userName, groupName string) (int, int) {
	u, err := user.Lookup(userName)
	if err != nil {
		util.WarnLog("Owner %s not found, skipping ownership normalization", userName)
		return -1, -1
	}
	g, err := user.LookupGroup(groupName)
	if err != nil {
		util.WarnLog("Group %s not found, skipping ownership normalization", groupName)
		return -1, -1
	}

	uid, err1 := strconv.Atoi(u.Uid)
	gid, err2 := strconv.Atoi(g.Gid)
	if err1 != nil || err2 != nil {
		return -1, -1
	}
	return uid, gid
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
