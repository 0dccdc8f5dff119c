package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xpdacq/xpdacq/internal/beamtime"
	"github.com/xpdacq/xpdacq/internal/plan"
)

func newBeamtimeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beamtime",
		Short: "Create and inspect the beamtime",
	}

	cmd.AddCommand(newBeamtimeStartCmd())
	cmd.AddCommand(newBeamtimeShowCmd())
	return cmd
}

func newBeamtimeStartCmd() *cobra.Command {
	var (
		configPath    string
		piName        string
		safNum        string
		wavelength    float64
		experimenters []string
		fields        []string
		force         bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new beamtime in the workspace",
		Long: `Creates the beamtime record and writes it to the workspace yaml directory.
Experimenters are given as "Last,First,ID" and may be repeated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var wl *float64
			if cmd.Flags().Changed("wavelength") {
				wl = &wavelength
			}
			return runBeamtimeStart(cmd, configPath, piName, safNum, wl, experimenters, fields, force)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&piName, "pi", "", "PI last name (required)")
	cmd.Flags().StringVar(&safNum, "saf", "", "SAF number (required)")
	cmd.Flags().Float64Var(&wavelength, "wavelength", 0, "X-ray wavelength in angstrom")
	cmd.Flags().StringArrayVar(&experimenters, "experimenter", nil, `experimenter as "Last,First,ID"`)
	cmd.Flags().StringArrayVar(&fields, "field", nil, "extra field as key=value")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing beamtime")
	return cmd
}

func runBeamtimeStart(cmd *cobra.Command, configPath, piName, safNum string, wl *float64, experimenters, fields []string, force bool) error {
	out := cmd.OutOrStdout()
	e, err := loadEnv(configPath)
	if err != nil {
		return err
	}
	defer e.log.Sync()

	people, err := parseExperimenters(experimenters)
	if err != nil {
		return err
	}
	extra, err := parseKeyValues(fields)
	if err != nil {
		return err
	}
	bt, err := beamtime.New(beamtime.Info{
		PIName:        piName,
		SAFNum:        safNum,
		Experimenters: people,
		Wavelength:    wl,
		Extra:         extra,
	})
	if err != nil {
		return err
	}

	path := bt.DefaultPath(e.cfg.YAMLDir)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("beamtime already exists at %s (use --force to replace it)", path)
	}
	if err := beamtime.Save(bt, path); err != nil {
		return err
	}
	fmt.Fprintf(out, "Beamtime %s started for PI %s (SAF %s)\n", bt.UID(), bt.PIName(), bt.SAFNum())
	fmt.Fprintf(out, "Saved to %s\n", path)
	if wl == nil {
		fmt.Fprintln(out, "Note: no wavelength set; it is needed for calibration and reduction.")
	}
	return nil
}

func parseExperimenters(in []string) ([]beamtime.Experimenter, error) {
	var out []beamtime.Experimenter
	for _, s := range in {
		parts := strings.Split(s, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("experimenter %q: want \"Last,First,ID\"", s)
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("experimenter %q: id: %w", s, err)
		}
		out = append(out, beamtime.Experimenter{
			LastName:  strings.TrimSpace(parts[0]),
			FirstName: strings.TrimSpace(parts[1]),
			ID:        id,
		})
	}
	return out, nil
}

func newBeamtimeShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List the beamtime's experiments, scanplans and samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(configPath)
			if err != nil {
				return err
			}
			defer e.log.Sync()
			bt, err := e.workspace()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Beamtime %s  PI %s  SAF %s\n\n", bt.UID(), bt.PIName(), bt.SAFNum())
			fmt.Fprintln(out, bt.String())
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newExperimentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Manage experiments",
	}
	cmd.AddCommand(newExperimentAddCmd())
	return cmd
}

func newExperimentAddCmd() *cobra.Command {
	var (
		configPath string
		fields     []string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an experiment to the beamtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(configPath)
			if err != nil {
				return err
			}
			defer e.log.Sync()
			bt, err := e.workspace()
			if err != nil {
				return err
			}
			if _, ok := bt.FindExperiment(args[0]); ok {
				return fmt.Errorf("experiment %q already exists", args[0])
			}
			extra, err := parseKeyValues(fields)
			if err != nil {
				return err
			}
			exp, err := beamtime.NewExperiment(bt, args[0], extra)
			if err != nil {
				return err
			}
			path, err := beamtime.SaveDefault(exp, e.cfg.YAMLDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Experiment %s (%s) saved to %s\n", exp.Name(), exp.UID(), path)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringArrayVar(&fields, "field", nil, "extra field as key=value")
	return cmd
}

func newSampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Manage samples",
	}
	cmd.AddCommand(newSampleAddCmd())
	return cmd
}

func newSampleAddCmd() *cobra.Command {
	var (
		configPath string
		fields     []string
	)

	cmd := &cobra.Command{
		Use:   "add <name> <composition>",
		Short: "Add a sample to the beamtime",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(configPath)
			if err != nil {
				return err
			}
			defer e.log.Sync()
			bt, err := e.workspace()
			if err != nil {
				return err
			}
			if _, ok := bt.FindSample(args[0]); ok {
				return fmt.Errorf("sample %q already exists", args[0])
			}
			extra, err := parseKeyValues(fields)
			if err != nil {
				return err
			}
			s, err := beamtime.NewSample(bt, args[0], args[1], extra)
			if err != nil {
				return err
			}
			path, err := beamtime.SaveDefault(s, e.cfg.YAMLDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sample %s (%s) saved to %s\n", s.Name(), s.UID(), path)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringArrayVar(&fields, "field", nil, "extra field as key=value")
	return cmd
}

func newScanPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scanplan",
		Short: "Manage scanplans",
	}
	cmd.AddCommand(newScanPlanAddCmd())
	cmd.AddCommand(newScanPlanListCmd())
	cmd.AddCommand(newScanPlanShowCmd())
	return cmd
}

func newScanPlanAddCmd() *cobra.Command {
	var (
		configPath string
		kwargs     []string
	)

	cmd := &cobra.Command{
		Use:   "add <experiment> <plan> [args...]",
		Short: "Add a scanplan under an experiment",
		Long: `Binds the arguments to the named plan and saves the scanplan. Arguments are
read as YAML values, so lists are written "[300, 250, 200]". Use -- before
negative numbers.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(configPath)
			if err != nil {
				return err
			}
			defer e.log.Sync()
			bt, err := e.workspace()
			if err != nil {
				return err
			}
			exp, ok := bt.FindExperiment(args[0])
			if !ok {
				return fmt.Errorf("experiment %q not found", args[0])
			}
			var planArgs []any
			for _, a := range args[2:] {
				planArgs = append(planArgs, parseValue(a))
			}
			kw, err := parseKeyValues(kwargs)
			if err != nil {
				return err
			}
			sp, err := beamtime.NewScanPlan(exp, e.reg, args[1], planArgs, kw)
			if err != nil {
				return err
			}
			path, err := beamtime.SaveDefault(sp, e.cfg.YAMLDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ScanPlan %s (%s) saved to %s\n", sp.ShortSummary(), sp.UID(), path)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringArrayVar(&kwargs, "kw", nil, "keyword argument as key=value")
	return cmd
}

func newScanPlanListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scanplans",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(configPath)
			if err != nil {
				return err
			}
			defer e.log.Sync()
			bt, err := e.workspace()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tSUMMARY\tUID\tEXPERIMENT")
			for i, sp := range bt.ScanPlans() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, sp.ShortSummary(), sp.UID(), sp.Experiment().Name())
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newScanPlanShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <scanplan>",
		Short: "Print the instructions a scanplan would run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(configPath)
			if err != nil {
				return err
			}
			defer e.log.Sync()
			bt, err := e.workspace()
			if err != nil {
				return err
			}
			sp, ok := bt.FindScanPlan(args[0])
			if !ok {
				return fmt.Errorf("scanplan %q not found", args[0])
			}
			summary, err := sp.Summary(e.devices())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newPlansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the plan names scanplans can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := plan.DefaultRegistry()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PLAN\tPARAMETERS")
			for _, name := range reg.Names() {
				impl, err := reg.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", name, impl.Signature())
			}
			return w.Flush()
		},
	}
}
