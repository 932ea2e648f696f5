/*
Copyright © 2026 the Nowcast authors.
This file is part of Nowcast.

Nowcast is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Nowcast is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Nowcast.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package nowcastutil holds the command-line interface of the Nowcast
// precipitation-nowcasting toolkit.
package nowcastutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stormmodel/nowcast"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to Nowcast.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel sets the verbosity of the logging output. Options
              are debug, info, warn, and error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "InputFile",
			usage: `
              InputFile is the path to the NetCDF file holding the sequence of
              precipitation observations. It can include environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path of the output file. It can include
              environment variables. run writes the forecast sequence here as a
              NetCDF file; motion writes the estimated motion field; perturb
              writes one motion file per ensemble member, replacing a [MEMBER]
              wild card in the path with the member number; plot writes a PNG
              image.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "NumTimesteps",
			usage: `
              NumTimesteps is the number of future frames to forecast, each one
              observation interval apart.`,
			defaultVal: 12,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputVariables",
			usage: `
              OutputVariables specifies which variables should be included in the
              shapefile output, mapping field names to expressions over the
              per-cell variables R, U, V, speed, x, and y. It can include
              environment variables.`,
			defaultVal: map[string]string{
				"rain": "R",
			},
			flagsets: []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ShapefileOutput",
			usage: `
              ShapefileOutput is the path to an optional point shapefile of the
              final forecast frame, holding the variables specified by
              OutputVariables. If it is left blank, no shapefile is written.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "VectorShapefile",
			usage: `
              VectorShapefile is the path to an optional point shapefile of the
              declustered sparse motion vectors underlying the dense motion
              field. If it is left blank, no shapefile is written.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{motionCmd.Flags()},
		},
		{
			name: "Motion.MaxCorners",
			usage: `
              Motion.MaxCorners caps the number of features detected in each
              frame, strongest first. A value of zero or less keeps all features
              that pass the quality and distance tests.`,
			defaultVal: 500,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.QualityLevel",
			usage: `
              Motion.QualityLevel rejects corners whose minimum-eigenvalue score
              is not above this fraction of the best score in the frame.`,
			defaultVal: 0.1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.MinDistance",
			usage: `
              Motion.MinDistance is the smallest allowed distance in pixels
              between two detected features.`,
			defaultVal: 5.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.BlockSize",
			usage: `
              Motion.BlockSize is the side length in pixels of the window over
              which the corner detector sums the gradient structure tensor.`,
			defaultVal: 15,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.OpeningSize",
			usage: `
              Motion.OpeningSize is the structuring element size in pixels of
              the morphological opening applied to each frame before feature
              detection, removing isolated echoes. A value of zero or less
              disables the opening.`,
			defaultVal: 3,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.WindowSize",
			usage: `
              Motion.WindowSize is the (rows, cols) extent of the Lucas-Kanade
              tracking window centered on each feature.`,
			defaultVal: []int{50, 50},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.PyramidLevels",
			usage: `
              Motion.PyramidLevels is the number of half-resolution image
              reductions beyond the base image used for coarse-to-fine
              tracking.`,
			defaultVal: 2,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.MaxIterations",
			usage: `
              Motion.MaxIterations bounds the number of Lucas-Kanade refinement
              steps per pyramid level.`,
			defaultVal: 10,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.Epsilon",
			usage: `
              Motion.Epsilon stops the per-level tracking iteration early once
              the update step is smaller than this length in pixels.`,
			defaultVal: 0.01,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.MaxSpeed",
			usage: `
              Motion.MaxSpeed is the hard upper bound, in pixels per observation
              interval, on the speed of a tracked sample. Faster samples are
              discarded as outliers.`,
			defaultVal: 10.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.OutlierK",
			usage: `
              Motion.OutlierK is the interquartile-range multiplier of the
              speed outlier filter.`,
			defaultVal: 3.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.DeclusterGrid",
			usage: `
              Motion.DeclusterGrid is the cell size in pixels of the grid used
              to thin spatially redundant samples. A value of one or less
              disables declustering.`,
			defaultVal: 20.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Motion.MinSamples",
			usage: `
              Motion.MinSamples is the minimum number of samples a decluster
              cell needs to emit a representative.`,
			defaultVal: 2,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Interp.Kernel",
			usage: `
              Interp.Kernel is the radial basis function used to spread the
              sparse motion samples onto the frame grid. Options are nearest,
              inverse, and gaussian.`,
			defaultVal: "inverse",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Interp.K",
			usage: `
              Interp.K is the number of nearest samples consulted per grid
              point. A value of zero or less uses every sample.`,
			defaultVal: 20,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Interp.Epsilon",
			usage: `
              Interp.Epsilon is the interpolation kernel bandwidth in pixels. A
              value of zero or less selects the bandwidth automatically as the
              median pairwise distance between the sample positions.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Interp.Chunks",
			usage: `
              Interp.Chunks splits the interpolation grid into this many batches
              that are resolved independently, bounding peak memory use.`,
			defaultVal: 5,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), motionCmd.Flags(), perturbCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "Extrap.Scheme",
			usage: `
              Extrap.Scheme is the advection scheme used to extrapolate the most
              recent observation along the motion field. Options are
              semilagrangian and upwind.`,
			defaultVal: "semilagrangian",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Extrap.NIter",
			usage: `
              Extrap.NIter is the number of midpoint refinement iterations used
              by the semi-Lagrangian scheme when locating departure points.`,
			defaultVal: 3,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Extrap.FillValue",
			usage: `
              Extrap.FillValue is assigned wherever a semi-Lagrangian departure
              point falls outside the observed domain.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "BPS.Members",
			usage: `
              BPS.Members is the number of perturbed ensemble members to
              generate.`,
			defaultVal: 24,
			flagsets:   []*pflag.FlagSet{perturbCmd.Flags()},
		},
		{
			name: "BPS.Seed",
			usage: `
              BPS.Seed seeds the random perturbations. Repeating a run with the
              same seed reproduces the same ensemble.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{perturbCmd.Flags()},
		},
		{
			name: "BPS.LeadTime",
			usage: `
              BPS.LeadTime is the forecast lead time in minutes at which the
              perturbation magnitudes are evaluated.`,
			defaultVal: 60.0,
			flagsets:   []*pflag.FlagSet{perturbCmd.Flags()},
		},
		{
			name: "BPS.PixelsPerKm",
			usage: `
              BPS.PixelsPerKm is the spatial resolution of the motion field in
              pixels per kilometer.`,
			defaultVal: 1.0,
			flagsets:   []*pflag.FlagSet{perturbCmd.Flags()},
		},
		{
			name: "BPS.Timestep",
			usage: `
              BPS.Timestep is the time interval of the motion vectors in
              minutes. If it is zero or less, the timestep recorded in the
              input file is used.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{perturbCmd.Flags()},
		},
		{
			name: "BPS.ParToVel",
			usage: `
              BPS.ParToVel holds the parameters a, b, c of the standard
              deviation g(t) = a*t^b + c of the perturbations parallel to the
              motion vectors, with the lead time t in minutes.`,
			defaultVal: []string{"10.88", "0.23", "-7.68"},
			flagsets:   []*pflag.FlagSet{perturbCmd.Flags()},
		},
		{
			name: "BPS.PerpToVel",
			usage: `
              BPS.PerpToVel holds the parameters a, b, c of the standard
              deviation of the perturbations perpendicular to the motion
              vectors.`,
			defaultVal: []string{"5.76", "0.31", "-2.72"},
			flagsets:   []*pflag.FlagSet{perturbCmd.Flags()},
		},
		{
			name: "Plot.Quantity",
			usage: `
              Plot.Quantity chooses what to draw: rain for a precipitation
              frame, or u, v, or speed for a motion field component.`,
			defaultVal: "rain",
			flagsets:   []*pflag.FlagSet{plotCmd.Flags()},
		},
		{
			name: "Plot.Frame",
			usage: `
              Plot.Frame is the index of the precipitation frame to draw. A
              negative index counts back from the most recent frame, so the
              default -1 draws the most recent one.`,
			defaultVal: -1,
			flagsets:   []*pflag.FlagSet{plotCmd.Flags()},
		},
		{
			name: "Plot.Vectors",
			usage: `
              Plot.Vectors overlays the declustered sparse motion vectors on
              the heat map as scatter points.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{plotCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("NOWCAST")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case []int:
				if option.shorthand == "" {
					set.IntSlice(option.name, option.defaultVal.([]int), option.usage)
				} else {
					set.IntSliceP(option.name, option.shorthand, option.defaultVal.([]int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(motionCmd)
	Root.AddCommand(perturbCmd)
	Root.AddCommand(plotCmd)
}

// setConfig reads in the configuration file, if there is one, and
// applies the configured logging level.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("nowcastutil: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("LogLevel"))
	if err != nil {
		return fmt.Errorf("nowcastutil: problem parsing LogLevel: %v", err)
	}
	logrus.SetLevel(level)
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "nowcast",
	Short: "A radar precipitation nowcasting toolkit.",
	Long: `Nowcast produces short-term precipitation forecasts by tracking the
motion of precipitation echoes through a sequence of radar-derived rain
fields and extrapolating the most recent field along the estimated motion.
Use the subcommands specified below to access the functionality.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using command-line
arguments, or by setting environment variables in the format 'NOWCAST_var'
where 'var' is the name of the variable to be set. Many configuration
variables are additionally allowed to contain environment variables within
them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of Nowcast.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Nowcast v%s\n", nowcast.Version)
	},
	DisableAutoGenTag: true,
}

// runCmd is a command that runs a deterministic nowcast.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a deterministic nowcast.",
	Long: `run reads a sequence of precipitation observations, estimates the
motion field, extrapolates the most recent observation along it, and writes
the forecast sequence to a NetCDF file. If ShapefileOutput is set, the
variables specified by OutputVariables are evaluated on the final forecast
frame and written as a point shapefile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := motionConfig(Cfg)
		if err != nil {
			return err
		}
		ecfg := extrapConfig(Cfg)
		outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		shapefile := os.ExpandEnv(Cfg.GetString("ShapefileOutput"))
		var outputVars map[string]string
		if shapefile != "" {
			outputVars, err = checkOutputVars(GetStringMapString("OutputVariables", Cfg))
			if err != nil {
				return err
			}
		}
		return Run(logrus.StandardLogger(),
			os.ExpandEnv(Cfg.GetString("InputFile")),
			outputFile,
			shapefile,
			outputVars,
			Cfg.GetInt("NumTimesteps"),
			cfg, ecfg)
	},
	DisableAutoGenTag: true,
}

// motionCmd is a command that estimates and saves a motion field.
var motionCmd = &cobra.Command{
	Use:   "motion",
	Short: "Estimate a motion field.",
	Long: `motion reads a sequence of precipitation observations, estimates the
dense motion field, and writes it to a NetCDF file with variables U and V in
pixels per observation interval. If VectorShapefile is set, the declustered
sparse motion vectors behind the dense field are also written as a point
shapefile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := motionConfig(Cfg)
		if err != nil {
			return err
		}
		outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		return Motion(logrus.StandardLogger(),
			os.ExpandEnv(Cfg.GetString("InputFile")),
			outputFile,
			os.ExpandEnv(Cfg.GetString("VectorShapefile")),
			cfg)
	},
	DisableAutoGenTag: true,
}

// perturbCmd is a command that generates an ensemble of perturbed
// motion fields.
var perturbCmd = &cobra.Command{
	Use:   "perturb",
	Short: "Generate perturbed motion fields.",
	Long: `perturb reads a sequence of precipitation observations, estimates the
motion field, and writes an ensemble of randomly perturbed copies of it,
one NetCDF file per member. The perturbations follow the scheme of Bowler
et al. (2006), growing with the forecast lead time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := motionConfig(Cfg)
		if err != nil {
			return err
		}
		bcfg, err := bpsConfig(Cfg)
		if err != nil {
			return err
		}
		outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		return Perturb(logrus.StandardLogger(),
			os.ExpandEnv(Cfg.GetString("InputFile")),
			outputFile,
			Cfg.GetInt("BPS.Members"),
			uint64(Cfg.GetInt("BPS.Seed")),
			Cfg.GetFloat64("BPS.LeadTime"),
			cfg, bcfg)
	},
	DisableAutoGenTag: true,
}

// plotCmd is a command that draws a heat map of the data.
var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Draw a heat map.",
	Long: `plot reads a sequence of precipitation observations and draws a heat
map of one precipitation frame or of a component of the estimated motion
field to a PNG file. The axes are in pixel coordinates with the origin at
the lower left.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := motionConfig(Cfg)
		if err != nil {
			return err
		}
		outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		return Plot(logrus.StandardLogger(),
			os.ExpandEnv(Cfg.GetString("InputFile")),
			outputFile,
			Cfg.GetString("Plot.Quantity"),
			Cfg.GetInt("Plot.Frame"),
			Cfg.GetBool("Plot.Vectors"),
			cfg)
	},
	DisableAutoGenTag: true,
}
