package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

func newValidateCmd() *cobra.Command {
	var showStates bool

	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Compile definition files and report their shape",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec := entity.NewDefinitionCodec(nil)
			failed := 0
			for _, path := range args {
				def, err := validateFile(codec, path)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)
					failed++
					continue
				}
				summary := def.Summary()
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s: %s v%s (%s) %d states, %d transitions, initial %s\n",
					path, summary.Name, summary.Version, summary.EntityType,
					summary.StateCount, summary.TransitionCount, summary.InitialState)
				if showStates {
					printStates(cmd.OutOrStdout(), def)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d definitions are invalid", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showStates, "states", false, "list each state and the triggers leaving it")
	return cmd
}

func validateFile(codec *entity.DefinitionCodec, path string) (*entity.Definition, error) {
	def, err := loadDefinition(codec, path)
	if err != nil {
		return nil, err
	}
	if def.EntityType == "" {
		return nil, fmt.Errorf("entity_type is required")
	}
	if _, err := domainwf.Compile(def, domainwf.WithGuardPolicy(domainwf.GuardPolicyEnforce)); err != nil {
		return nil, err
	}
	return def, nil
}

func printStates(out io.Writer, def *entity.Definition) {
	for _, s := range def.States {
		summary := s.Summary()
		var flags []string
		if summary.IsInitial {
			flags = append(flags, "initial")
		}
		if summary.IsFinal {
			flags = append(flags, "final")
		}
		fmt.Fprintf(out, "     %-20s %-15s -> [%s]\n", summary.Name, strings.Join(flags, ","), strings.Join(summary.Triggers, ", "))
	}
	fmt.Fprintf(out, "     triggers: %s\n", strings.Join(def.TriggerNames(), ", "))
}
