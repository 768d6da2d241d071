package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"svcmonitor/internal/registry"
)

var (
	configJSON bool

	configCmd = &cobra.Command{
		Use:     "config",
		Aliases: []string{"show-config"},
		Short:   "显示已加载的监控目标",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initQuiet()
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg)
			if err != nil {
				return err
			}

			if configJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"source":   cfg.Source,
					"interval": reg.Interval().String(),
					"timeout":  reg.Timeout().String(),
					"targets":  reg.Targets(),
				})
			}

			fmt.Printf("配置来源: %s\n", cfg.Source)
			fmt.Printf("检测间隔: %v  超时: %v  存储: %s (%s)\n\n", reg.Interval(), reg.Timeout(), cfg.Storage.Backend, cfg.EventLogPath())
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKEY\tPROTOCOL")
			for _, t := range reg.Targets() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.Key(), t.Protocol)
			}
			return tw.Flush()
		},
	}
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configJSON, "json", false, "以 JSON 输出")
}
