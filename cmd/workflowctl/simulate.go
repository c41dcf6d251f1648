package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/trigger"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

type simulateOptions struct {
	triggers    []string
	userID      string
	roles       []string
	permissions []string
	entityID    string
	guardPolicy string
}

func newSimulateCmd() *cobra.Command {
	var opts simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate <file>",
		Short: "Start an in-memory instance and fire triggers in order",
		Long: `simulate compiles the definition, starts an instance for a synthetic entity
and fires each --trigger in order, printing the state and permitted triggers
after every step. It stops at the first rejected trigger.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.OutOrStdout(), args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&opts.triggers, "trigger", "t", nil, "trigger to fire; repeat or comma separate")
	flags.StringVar(&opts.userID, "user", "simulator", "principal user id")
	flags.StringSliceVar(&opts.roles, "role", nil, "principal role")
	flags.StringSliceVar(&opts.permissions, "permission", nil, "principal permission")
	flags.StringVar(&opts.entityID, "entity-id", "sim-1", "entity id bound to the instance")
	flags.StringVar(&opts.guardPolicy, "guard-policy", "enforce", "ignore or enforce")
	return cmd
}

func runSimulate(out io.Writer, path string, opts simulateOptions) error {
	policy, err := domainwf.ParseGuardPolicy(opts.guardPolicy)
	if err != nil {
		return err
	}

	def, err := loadDefinition(entity.NewDefinitionCodec(nil), path)
	if err != nil {
		return err
	}
	graph, err := domainwf.Compile(def, domainwf.WithGuardPolicy(policy))
	if err != nil {
		return err
	}

	tc := trigger.NewContext(opts.entityID, trigger.NewClaimsPrincipal(opts.userID, opts.roles, opts.permissions))
	inst := graph.NewInstance("", tc)
	printStep(out, "created", inst)

	res, err := inst.Start(tc)
	if err != nil {
		return err
	}
	printTransition(out, def, res)

	for _, name := range opts.triggers {
		res, err := inst.Fire(domainwf.Trigger(name), tc)
		if err != nil {
			return fmt.Errorf("%s rejected in state %s: %w", name, inst.CurrentStateName(), err)
		}
		printTransition(out, def, res)
	}

	if !inst.IsActive() {
		fmt.Fprintf(out, "completed in final state %s\n", inst.CurrentStateName())
	}
	return nil
}

func printTransition(out io.Writer, def *entity.Definition, res *domainwf.TransitionResult) {
	printStep(out, fmt.Sprintf("%s: %s -> %s", res.Trigger, res.Source, res.Destination), res.Instance)
	if st, ok := def.FindState(res.Destination.String()); ok && st.Description != "" {
		fmt.Fprintf(out, "  %s\n", st.Description)
	}
}

func printStep(out io.Writer, label string, inst *domainwf.Instance) {
	names := domainwf.TriggerNames(inst.PermittedTriggers())
	fmt.Fprintf(out, "%-32s permitted [%s]\n", label, strings.Join(names, ", "))
}
