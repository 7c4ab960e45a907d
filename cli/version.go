package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coder/serpent"

	"github.com/researchspace/workbench/buildinfo"
)

func (*RootCmd) version() *serpent.Command {
	var outputJSON bool
	return &serpent.Command{
		Use:   "version",
		Short: "Show the workbench version.",
		Options: serpent.OptionSet{
			{
				Flag:        "json",
				Description: "Emit version information in machine-readable JSON format.",
				Value:       serpent.BoolOf(&outputJSON),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			buildTime, validTime := buildinfo.Time()
			if outputJSON {
				enc := json.NewEncoder(inv.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Version     string `json:"version"`
					BuildTime   string `json:"build_time,omitempty"`
					ExternalURL string `json:"external_url"`
				}{
					Version:     buildinfo.Version(),
					BuildTime:   buildTime.Format(time.UnixDate),
					ExternalURL: buildinfo.ExternalURL(),
				})
			}
			var str strings.Builder
			_, _ = str.WriteString("Workbench " + buildinfo.Version())
			if validTime {
				_, _ = str.WriteString(" " + buildTime.Format(time.UnixDate))
			}
			_, _ = str.WriteString("\n" + buildinfo.ExternalURL() + "\n")
			_, _ = fmt.Fprint(inv.Stdout, str.String())
			return nil
		},
	}
}
