package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/greenedumap/internal/config"
	"github.com/joeblew999/greenedumap/internal/layer"
	"github.com/joeblew999/greenedumap/internal/logger"
	"github.com/joeblew999/greenedumap/internal/server"
)

// Options defines all CLI flags and env vars for the map server.
// Flags: --host, --port, --data-dir, --env-file
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_ENV_FILE
type Options struct {
	Host    string `doc:"Host to bind to" default:"0.0.0.0"`
	Port    int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir string `doc:"Directory for the record store" default:".data"`
	EnvFile string `doc:"Optional .env file" default:".env"`
}

func newServer(ctx context.Context, opts *Options) (*server.Server, error) {
	cfg := config.Load(opts.EnvFile)
	return server.New(ctx, server.Config{
		Host:    opts.Host,
		Port:    fmt.Sprintf("%d", opts.Port),
		DataDir: opts.DataDir,
		App:     cfg,
	}, logger.Setup())
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var (
			srv     *server.Server
			httpSrv *http.Server
		)

		hooks.OnStart(func() {
			ctx := context.Background()
			var err error
			srv, err = newServer(ctx, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
				os.Exit(1)
			}
			srv.Warm(ctx)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("greenmap server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Pages:   %s/?page=environment, %s/?page=relief\n", baseURL, baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			httpSrv = &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			if httpSrv == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// live map streams never finish on their own
			srv.Close()
			httpSrv.Shutdown(ctx)
		})
	})

	cli.Root().Use = "greenmap"
	cli.Root().Short = "GreenEduMap map server: environment and relief dashboards"
	cli.Root().Version = "0.3.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, err := newServer(cmd.Context(), opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error building server: %v\n", err)
				os.Exit(1)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// presets subcommand: print the effective layer presets
	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "Print the effective layer presets as YAML (PRESETS_FILE or built-in)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg := config.Load(opts.EnvFile)
			presets := layer.DefaultPresets()
			if cfg.Presets != "" {
				p, err := layer.LoadPresets(cfg.Presets)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error loading presets: %v\n", err)
					os.Exit(1)
				}
				presets = p
			}
			out, err := layer.MarshalPresets(presets)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling presets: %v\n", err)
				os.Exit(1)
			}
			fmt.Print(string(out))
		}),
	}
	cli.Root().AddCommand(presetsCmd)

	cli.Run()
}
