package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

func newConvertCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Re-encode a definition file as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec := entity.NewDefinitionCodec(nil)
			def, err := loadDefinition(codec, args[0])
			if err != nil {
				return err
			}

			var out []byte
			switch format {
			case "json":
				out, err = codec.MarshalJSON(def)
			case "yaml":
				out, err = codec.MarshalYAML(def)
			default:
				return fmt.Errorf("unknown format %q, want json or yaml", format)
			}
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(append(out, '\n'))
			return err
		},
	}

	cmd.Flags().StringVar(&format, "to", "json", "output format: json or yaml")
	return cmd
}
