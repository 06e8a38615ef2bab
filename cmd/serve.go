package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MichaLL27/shipfix/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server and self-healing monitor",
	Long: `Start the HTTP API server and the background monitor that probes
deployed projects and redeploys them after repeated failures.
By default it listens on port 8080. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		st := buildStack(s)
		server := api.NewServer(s, st.orch)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go st.mon.Run(ctx)

		port := viper.GetInt("port")
		addr := fmt.Sprintf(":%d", port)
		ui.Info("Serving API at http://localhost%s (monitor every %s)", addr, st.mon.Interval)
		return http.ListenAndServe(addr, server.Router())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	viper.SetDefault("port", 8080)
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}
