package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/funnelscope/funnelscope/internal/funnel"
	"github.com/funnelscope/funnelscope/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new draft funnel",
		Long: `Create a new draft funnel, either from a YAML definition file or
through the interactive wizard.

Examples:
  funnelscope create signup --file signup.yaml
  funnelscope create signup`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			var def funnel.Definition
			var err error
			if file != "" {
				def, err = funnel.LoadFile(file)
				if err != nil {
					return err
				}
			} else {
				def, err = promptDefinition()
				if err != nil {
					return err
				}
			}
			def.Name = name

			// Reject obviously broken drafts early; full validation runs
			// again at publish time.
			if err := funnel.Validate(def); err != nil {
				return err
			}

			return withStore(func(s *store.SQLiteStore) error {
				created, err := s.CreateFunnel(context.Background(), def)
				if err != nil {
					return fmt.Errorf("failed to create funnel: %w", err)
				}

				fmt.Printf("Created draft funnel '%s' with %d steps (window %s):\n", created.Name, len(created.Steps), created.Window)
				for i, step := range created.Steps {
					fmt.Printf("  %d: [%s] %s (%d rules)\n", i, step.Kind, step.Label, len(step.Rules))
				}
				fmt.Println("\nRun 'funnelscope publish' to freeze a version and start matching.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML funnel definition file")

	return cmd
}

func promptDefinition() (funnel.Definition, error) {
	windowPrompt := promptui.Prompt{
		Label:   "Time window (e.g. 7d, 24h)",
		Default: "7d",
	}
	windowStr, err := windowPrompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			return funnel.Definition{}, fmt.Errorf("cancelled")
		}
		return funnel.Definition{}, err
	}
	window, err := funnel.ParseWindow(windowStr)
	if err != nil {
		return funnel.Definition{}, err
	}

	def := funnel.Definition{Window: window}
	kinds := []funnel.StepKind{funnel.StepStart, funnel.StepPage, funnel.StepEvent, funnel.StepDecision, funnel.StepConversion}

	for {
		order := len(def.Steps)
		kindDefault := 1
		if order == 0 {
			kindDefault = 0
		}

		kindPrompt := promptui.Select{
			Label:     fmt.Sprintf("Step %d kind", order),
			Items:     kinds,
			Size:      len(kinds),
			CursorPos: kindDefault,
		}
		kindIdx, _, err := kindPrompt.Run()
		if err != nil {
			if err == promptui.ErrInterrupt {
				return funnel.Definition{}, fmt.Errorf("cancelled")
			}
			return funnel.Definition{}, err
		}

		labelPrompt := promptui.Prompt{Label: fmt.Sprintf("Step %d label", order)}
		label, err := labelPrompt.Run()
		if err != nil {
			if err == promptui.ErrInterrupt {
				return funnel.Definition{}, fmt.Errorf("cancelled")
			}
			return funnel.Definition{}, err
		}

		rule, err := promptRule()
		if err != nil {
			return funnel.Definition{}, err
		}

		def.Steps = append(def.Steps, funnel.Step{
			Order: order,
			Kind:  kinds[kindIdx],
			Label: label,
			Rules: []funnel.Rule{rule},
		})

		if kinds[kindIdx] == funnel.StepConversion {
			break
		}

		morePrompt := promptui.Select{
			Label: "Add another step",
			Items: []string{"yes", "no"},
		}
		moreIdx, _, err := morePrompt.Run()
		if err != nil || moreIdx == 1 {
			break
		}
	}

	return def, nil
}

func promptRule() (funnel.Rule, error) {
	rulePrompt := promptui.Select{
		Label: "Rule kind",
		Items: []string{"page (match url/path/referrer)", "event (match by name)"},
	}
	ruleIdx, _, err := rulePrompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			return funnel.Rule{}, fmt.Errorf("cancelled")
		}
		return funnel.Rule{}, err
	}

	if ruleIdx == 1 {
		namePrompt := promptui.Prompt{Label: "Event name"}
		name, err := namePrompt.Run()
		if err != nil {
			return funnel.Rule{}, err
		}
		return funnel.Rule{Kind: funnel.RuleEvent, Value: strings.TrimSpace(name)}, nil
	}

	fieldPrompt := promptui.Select{
		Label: "Page field",
		Items: []funnel.PageField{funnel.FieldURL, funnel.FieldPath, funnel.FieldReferrer},
	}
	fieldIdx, _, err := fieldPrompt.Run()
	if err != nil {
		return funnel.Rule{}, err
	}
	fields := []funnel.PageField{funnel.FieldURL, funnel.FieldPath, funnel.FieldReferrer}

	opPrompt := promptui.Select{
		Label: "Operator",
		Items: []funnel.Operator{funnel.OpEquals, funnel.OpContains, funnel.OpRegex},
	}
	opIdx, _, err := opPrompt.Run()
	if err != nil {
		return funnel.Rule{}, err
	}
	ops := []funnel.Operator{funnel.OpEquals, funnel.OpContains, funnel.OpRegex}

	valuePrompt := promptui.Prompt{Label: "Value"}
	value, err := valuePrompt.Run()
	if err != nil {
		return funnel.Rule{}, err
	}

	return funnel.Rule{
		Kind:     funnel.RulePage,
		Field:    fields[fieldIdx],
		Operator: ops[opIdx],
		Value:    strings.TrimSpace(value),
	}, nil
}
