package main

import (
	"fmt"

	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/rules"
	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage applicant flag rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			stored, err := e.repo.ListRuleConfigs(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), stored)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add [file]",
		Short: "Validate and store rules from a JSON or YAML file",
		Long: `Validate and store rules. The file holds one rule or a list of rules.
A running server picks them up on POST /rules/reload.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := readRules(args[0])
			if err != nil {
				return err
			}

			re, err := rules.NewEngine(nil, 1)
			if err != nil {
				return err
			}
			for _, c := range configs {
				if err := re.ValidateRule(c); err != nil {
					return fmt.Errorf("rule %s: %w", c.ID, err)
				}
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			for _, c := range configs {
				if err := e.repo.SaveRuleConfig(cmd.Context(), c); err != nil {
					return err
				}
			}
			return render(cmd.OutOrStdout(), map[string]int{"saved": len(configs)})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Store the built-in rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			builtin := rules.BuiltinRules()
			for _, c := range builtin {
				if err := e.repo.SaveRuleConfig(cmd.Context(), c); err != nil {
					return err
				}
			}
			return render(cmd.OutOrStdout(), map[string]int{"saved": len(builtin)})
		},
	})

	return cmd
}

func readRules(path string) ([]*domain.RuleConfig, error) {
	var list []*domain.RuleConfig
	if err := decodeFile(path, &list); err == nil {
		return list, nil
	}
	var one domain.RuleConfig
	if err := decodeFile(path, &one); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	return []*domain.RuleConfig{&one}, nil
}
