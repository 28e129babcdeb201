package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// Version and Commit are set at build time via ldflags.
var (
	Version = ""
	Commit  = ""
)

const flagFormat = "format"

type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Go      string `json:"go"`
}

func getVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of mandi-monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{
				Version: strings.TrimSpace(Version),
				Commit:  Commit,
				Go:      fmt.Sprintf("%s/%s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
			}

			format, err := cmd.Flags().GetString(flagFormat)
			if err != nil {
				return err
			}
			if format == "json" {
				out, err := json.Marshal(info)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("version: %s\ncommit: %s\ngo: %s\n", info.Version, info.Commit, info.Go)
			return nil
		},
	}

	cmd.Flags().String(flagFormat, "text", "print the version in either text or json")
	return cmd
}
