package main

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/engine"
	"github.com/opensource-finance/credittwin/internal/rules"
	"github.com/spf13/cobra"
)

func evaluateCmd() *cobra.Command {
	var (
		file    string
		amount  float64
		income  float64
		dti     float64
		fico    float64
		purpose string
		persist bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one application against the corpus",
		Example: `  twinctl evaluate --amount 15000 --income 85000 --dti 12 --fico 740
  twinctl evaluate --file application.yaml -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := &domain.ApplicationRecord{LoanPurpose: purpose}
			if file != "" {
				if err := decodeFile(file, app); err != nil {
					return fmt.Errorf("failed to read application: %w", err)
				}
			}
			flags := cmd.Flags()
			if flags.Changed("amount") {
				app.RequestedAmount = domain.Float(amount)
			}
			if flags.Changed("income") {
				app.AnnualIncome = domain.Float(income)
			}
			if flags.Changed("dti") {
				app.DTI = domain.Float(dti)
			}
			if flags.Changed("fico") {
				app.FICO = domain.Float(fico)
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			if err := e.hydrate(ctx); err != nil {
				return err
			}

			re, err := rules.NewEngine(nil, 4)
			if err != nil {
				return err
			}
			stored, err := e.repo.ListRuleConfigs(ctx)
			if err != nil {
				return err
			}
			if len(stored) == 0 {
				stored = rules.BuiltinRules()
			}
			if err := re.LoadRules(stored); err != nil {
				slog.Warn("failed to load rules", "error", err)
			}

			engCfg := e.cfg.Engine
			engCfg.PersistDecisions = persist
			engCfg.PublishDecisions = false

			evaluator := engine.New(e.index, engCfg, e.cfg.Policy,
				engine.WithRules(re, e.cfg.Velocity.WindowSecs),
				engine.WithRepository(e.repo),
				engine.WithVersion(Version),
			)
			d, err := evaluator.Evaluate(ctx, app)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), d)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Application file (JSON or YAML)")
	cmd.Flags().Float64Var(&amount, "amount", 0, "Requested amount")
	cmd.Flags().Float64Var(&income, "income", 0, "Annual income")
	cmd.Flags().Float64Var(&dti, "dti", 0, "Debt-to-income ratio, percent")
	cmd.Flags().Float64Var(&fico, "fico", 0, "FICO score")
	cmd.Flags().StringVar(&purpose, "purpose", "", "Loan purpose")
	cmd.Flags().BoolVar(&persist, "persist", false, "Store the decision")

	return cmd
}
