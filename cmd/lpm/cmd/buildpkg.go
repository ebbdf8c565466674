package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lpm-project/lpm/internal/build"
	"github.com/lpm-project/lpm/internal/container"
	"github.com/lpm-project/lpm/internal/model"
)

var (
	buildNoDeps       bool
	buildForceRebuild bool
)

var buildpkgCmd = &cobra.Command{
	Use:   "buildpkg <script>",
	Short: "Build a package artifact from a recipe script",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuildpkg,
}

func init() {
	buildpkgCmd.Flags().BoolVar(&buildNoDeps, "no-deps", false, "skip resolving/building build-time dependencies")
	buildpkgCmd.Flags().BoolVar(&buildForceRebuild, "force-rebuild", false, "rebuild even if a cached artifact already exists")
	rootCmd.AddCommand(buildpkgCmd)
}

// recipeDirLoader resolves a build-requires name to a sibling recipe file
// "<dir>/<name>.toml", the convention for a local recipe collection.
type recipeDirLoader struct {
	dir string
}

func (l *recipeDirLoader) Load(name string) (build.Recipe, bool, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, name+".toml")) // #nosec G304 - sibling of a user-supplied recipe path
	if os.IsNotExist(err) {
		return build.Recipe{}, false, nil
	}
	if err != nil {
		return build.Recipe{}, false, err
	}
	r, err := build.ParseRecipe(data)
	if err != nil {
		return build.Recipe{}, false, err
	}
	return r, true, nil
}

func runBuildpkg(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := newConfig()

	recipeData, err := os.ReadFile(args[0]) // #nosec G304 - user-supplied CLI argument, the whole point of buildpkg
	if err != nil {
		return fmt.Errorf("reading recipe %s: %w", args[0], err)
	}
	recipe, err := build.ParseRecipe(recipeData)
	if err != nil {
		return err
	}

	outPath := artifactPath(cfg.Paths().CacheDir, recipe.Name, recipe.Version, recipe.Release)
	if !buildForceRebuild {
		if _, err := os.Stat(outPath); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already built, skipping (use --force-rebuild to rebuild)\n", outPath)
			return nil
		}
	}
	if err := cfg.EnsureStateDirs(); err != nil {
		return err
	}

	plan := []build.Recipe{recipe}
	if !buildNoDeps {
		st, err := openStateStore(cfg)
		if err != nil {
			return err
		}
		installed, err := installedNames(ctx, st)
		st.Close()
		if err != nil {
			return err
		}
		loader := &recipeDirLoader{dir: filepath.Dir(args[0])}
		planner := build.NewPlanner(logger(), loader, installed)
		plan, err = planner.Plan(recipe)
		if err != nil {
			return err
		}
	}

	fetcher := build.NewSourceFetcher(logger(), nil, cfg.Paths().CacheDir, os.Getenv("LPMBUILD_REPO"))
	results, err := build.BuildAll(ctx, logger(), plan, cfg.Jobs, func(r build.Recipe) (*build.Pipeline, error) {
		workdir, err := os.MkdirTemp("", "lpm-build-"+r.Name+"-")
		if err != nil {
			return nil, err
		}
		return build.NewPipeline(logger(), workdir, cfg.Jobs, build.DefaultTuning(), fetcher), nil
	})
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	for _, r := range plan {
		res := results[r.Name]
		if res == nil {
			continue
		}
		if err := packageStage(ctx, cmd, cfg.Paths().CacheDir, r, res); err != nil {
			return err
		}
		os.RemoveAll(filepath.Dir(res.StageDir))
		logger().Info("build finished", "package", r.Name, "phases", res.PhaseCount, "duration", res.Duration)
	}
	return nil
}

// packageStage turns one recipe's staged tree into its main artifact plus
// any split sub-packages, each inheriting the recipe's version and release.
func packageStage(ctx context.Context, cmd *cobra.Command, cacheDir string, recipe build.Recipe, res *build.Result) error {
	if _, _, err := build.GenerateInstallScript(res.StageDir); err != nil {
		return fmt.Errorf("generating install script for %s: %w", recipe.Name, err)
	}

	splits, err := build.SplitInstallRoot(ctx, res.StageDir, recipe)
	if err != nil {
		return fmt.Errorf("splitting staged tree for %s: %w", recipe.Name, err)
	}

	splitNames := make([]string, 0, len(splits))
	for name := range splits {
		splitNames = append(splitNames, name)
	}
	sort.Strings(splitNames)

	for _, splitName := range splitNames {
		splitFiles := splits[splitName]
		if len(splitFiles) == 0 {
			continue
		}
		name := recipe.Name
		requires := recipe.Requires
		provides := recipe.Provides
		if splitName != "main" {
			name = recipe.Name + "-" + splitName
			split := recipe.Splits[splitName]
			requires = split.Requires
			provides = split.Provides
		}
		path := artifactPath(cacheDir, name, recipe.Version, recipe.Release)
		if err := writeStagedContainer(path, res.StageDir, name, requires, provides, recipe, splitFiles); err != nil {
			return fmt.Errorf("packaging split %s: %w", splitName, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", path)
	}
	return nil
}

func artifactPath(cacheDir, name, version, release string) string {
	return filepath.Join(cacheDir, fmt.Sprintf("%s-%s.zst", name, model.FullVersion(version, release)))
}

// writeStagedContainer packages the given absolute files (already under
// stageDir) into a container artifact at path.
func writeStagedContainer(path, stageDir, name string, requires, provides []string, recipe build.Recipe, files []string) error {
	arch := recipe.Arch
	if arch == "" {
		arch = "noarch"
	}
	payload := container.Payload{
		Meta: container.Meta{
			Name:       name,
			Version:    recipe.Version,
			Release:    recipe.Release,
			Arch:       arch,
			Summary:    recipe.Summary,
			URL:        recipe.URL,
			License:    recipe.License,
			Requires:   requires,
			Provides:   provides,
			Conflicts:  recipe.Conflicts,
			Obsoletes:  recipe.Obsoletes,
			Recommends: recipe.Recommends,
			Suggests:   recipe.Suggests,
		},
		Files: make(map[string][]byte, len(files)),
	}

	for _, abs := range files {
		rel, err := filepath.Rel(stageDir, abs)
		if err != nil {
			return err
		}
		manifestPath := "/" + filepath.ToSlash(rel)

		info, err := os.Lstat(abs)
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(abs)
			if err != nil {
				return err
			}
			payload.Manifest = append(payload.Manifest, model.ManifestEntry{
				Path:    manifestPath,
				Symlink: target,
				SHA256:  container.SHA256Hex([]byte(target)),
			})
			continue
		}

		data, err := os.ReadFile(abs) // #nosec G304 - path comes from a directory walk under the build's own stage dir
		if err != nil {
			return err
		}
		payload.Files[manifestPath] = data
		payload.Manifest = append(payload.Manifest, model.ManifestEntry{
			Path:      manifestPath,
			Mode:      uint32(info.Mode().Perm()),
			SHA256:    container.SHA256Hex(data),
			SizeBytes: info.Size(),
		})
	}

	f, err := os.Create(path) // #nosec G304 - path is derived from the trusted cache directory
	if err != nil {
		return err
	}
	defer f.Close()
	return container.Write(f, payload)
}
