package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/pkg/client"
	"inferd/pkg/wire"
)

type cliConfig struct {
	Server     string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

func buildRootCmd(cfg *cliConfig) *cobra.Command {
	root := &cobra.Command{
		Use:           "inferctl",
		Short:         "Client utilities for an inferd server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfg.Server, "server", cfg.Server, "Base URL of the inferd server")
	root.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-attempt request timeout")
	root.PersistentFlags().IntVar(&cfg.Retries, "retries", cfg.Retries, "Total attempts before giving up")
	root.PersistentFlags().DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "Pause between retried attempts")

	inferCmd := &cobra.Command{
		Use:     "infer [envelope.bin]",
		Short:   "Send an inference request and print the response summary",
		Example: "  inferctl infer\n  inferctl infer request.bin --server http://gpu-box:5000",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req *wire.Map
			if len(args) == 1 {
				blob, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				m, err := wire.Decode(blob)
				if err != nil {
					return fmt.Errorf("decode %s: %w", args[0], err)
				}
				req = m
			} else {
				req = demoRequest()
			}
			c := newClient(cfg)
			resp, err := c.Infer(cmd.Context(), req)
			if err != nil {
				return err
			}
			printEnvelope(resp)
			return nil
		},
	}

	var device string
	updateCmd := &cobra.Command{
		Use:     "update <model.tar>",
		Short:   "Upload a model archive and hot-swap it in",
		Example: "  inferctl update model.tar --device cuda:0",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c := newClient(cfg)
			msg, err := c.UpdateModel(cmd.Context(), blob, device)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
	updateCmd.Flags().StringVar(&device, "device", "", "Target device for the new model (server default when empty)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cfg)
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("state=%s model=%s device=%s uptime=%ds loads=%d swaps=%d swap_failures=%d retiring=%d\n",
				st.State, st.ModelPath, st.Device, st.UptimeSeconds,
				st.LoadsTotal, st.SwapsTotal, st.SwapFailuresTotal, st.RetiringHandles)
			if st.LastError != "" {
				fmt.Printf("last_error=%s\n", st.LastError)
			}
			return nil
		},
	}

	root.AddCommand(inferCmd, updateCmd, statusCmd)
	return root
}

func newClient(cfg *cliConfig) *client.Client {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	return client.New(client.Config{
		BaseURL:    cfg.Server,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
}

// demoRequest mirrors the shapes a robot-control policy consumes.
func demoRequest() *wire.Map {
	state, _ := wire.Float32Array([]uint32{6}, make([]float32, 6))
	image, _ := wire.Array(wire.DtypeUint8, []uint32{480, 640, 3}, make([]byte, 480*640*3))
	m := wire.NewMap()
	m.Set("state", state)
	m.Set("image", image)
	m.Set("instruction", wire.String("pick up the cup"))
	return m
}

func printEnvelope(m *wire.Map) {
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		switch v.Kind {
		case wire.KindString:
			fmt.Printf("%s: %q\n", k, v.S)
		case wire.KindArray:
			fmt.Printf("%s: %s%v (%d bytes)\n", k, v.Dtype, v.Shape, len(v.Raw))
		case wire.KindInt:
			fmt.Printf("%s: %d\n", k, v.I)
		case wire.KindFloat:
			fmt.Printf("%s: %g\n", k, v.F)
		default:
			fmt.Printf("%s: <%v>\n", k, v.Kind)
		}
	}
}

func main() {
	cfg := &cliConfig{
		Server:     envOr("INFERD_SERVER", "http://127.0.0.1:5000"),
		Timeout:    10 * time.Second,
		Retries:    3,
		RetryDelay: time.Second,
	}
	root := buildRootCmd(cfg)
	root.SetContext(context.Background())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
