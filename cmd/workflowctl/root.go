package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "workflowctl",
		Short:         "Inspect workflow definitions",
		Long:          `workflowctl validates, converts and simulates workflow definition files without a database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newValidateCmd(), newSimulateCmd(), newConvertCmd())
	return root
}

// loadDefinition decodes a YAML (.yaml, .yml) or JSON (.json) definition file
func loadDefinition(codec *entity.DefinitionCodec, path string) (*entity.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return codec.UnmarshalYAML(data)
	case ".json":
		return codec.UnmarshalJSON(data)
	default:
		return nil, fmt.Errorf("%s: unsupported file extension, want .yaml, .yml or .json", path)
	}
}
