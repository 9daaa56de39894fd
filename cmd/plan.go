package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/hoops-harvester/internal/catalog"
	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// planFlags narrow the configured plan for a single invocation.
type planFlags struct {
	first       int
	last        int
	categories  []string
	skipRefresh bool
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.first, "first", 0, "first season of the range (overrides catalog.first_period)")
	cmd.Flags().IntVar(&f.last, "last", 0, "last season of the range (overrides catalog.last_period)")
	cmd.Flags().StringSliceVar(&f.categories, "categories", nil, "categories harvested across the range")
	cmd.Flags().BoolVar(&f.skipRefresh, "skip-refresh", false, "ignore the configured refresh targets")
}

func (f *planFlags) apply(cmd *cobra.Command, plan catalog.Plan) (catalog.Plan, error) {
	if cmd.Flags().Changed("first") {
		plan.FirstPeriod = f.first
	}
	if cmd.Flags().Changed("last") {
		plan.LastPeriod = f.last
	}
	if cmd.Flags().Changed("categories") {
		categories := make([]harvest.Category, 0, len(f.categories))
		for _, raw := range f.categories {
			c, err := harvest.ParseCategory(raw)
			if err != nil {
				return catalog.Plan{}, fmt.Errorf("--categories: %w", err)
			}
			categories = append(categories, c)
		}
		plan.Categories = categories
	}
	if f.skipRefresh {
		plan.Refresh = nil
	}
	if err := plan.Validate(); err != nil {
		return catalog.Plan{}, err
	}
	return plan, nil
}

// newPlanCmd creates the 'plan' subcommand.
func newPlanCmd() *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Prints the jobs of the configured plan",
		Long: `Enumerates the top-level jobs of the plan with their source URL, extraction
rule and artifact name. Nothing is fetched; per-season stat subtypes are only
known once a run has read the navigation fragment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			base, err := env.cfg.Plan()
			if err != nil {
				return err
			}
			plan, err := flags.apply(cmd, base)
			if err != nil {
				return err
			}
			selectors, err := env.cfg.SelectorTable()
			if err != nil {
				return err
			}
			cat, err := catalog.New(env.cfg.Source, env.cfg.Output, selectors)
			if err != nil {
				return err
			}
			return printPlan(cmd, cat, plan.Enumerate())
		},
	}
	flags.register(cmd)
	return cmd
}

func printPlan(cmd *cobra.Command, cat *catalog.Catalog, jobs []harvest.Job) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tURL\tRULE\tARTIFACT")
	for _, job := range jobs {
		url, err := cat.URL(job)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", job.Key(), err)
		}
		name, err := cat.ArtifactName(job)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", job.Key(), err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", job.Key(), url, cat.Rule(job), name)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d jobs\n", len(jobs))
	return nil
}
