package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hyper-mcp/hyper-mcp/cmd/hyper-mcp/gatewayserver"
	"github.com/hyper-mcp/hyper-mcp/internal/config"
	"github.com/hyper-mcp/hyper-mcp/internal/dispatcher"
	"github.com/hyper-mcp/hyper-mcp/internal/fetch"
	"github.com/hyper-mcp/hyper-mcp/internal/hlog"
	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
	"github.com/hyper-mcp/hyper-mcp/internal/loader"
	"github.com/hyper-mcp/hyper-mcp/internal/registry"
)

// Exit codes (spec §6): 0 clean shutdown, 1 config error, 2 verification
// failure observed at startup, 3 transport bind failure.
const (
	exitOK               = 0
	exitConfigError      = 1
	exitVerificationFail = 2
	exitBindFailure      = 3
)

func runCommand() *cobra.Command {
	var (
		configFile            string
		transport              string
		bindAddress            string
		insecureSkipSignature  bool
		useSigstoreTUFData     bool
		rekorPubKeys           string
		fulcioCerts            string
		certIssuer             string
		certEmail              string
		certURL                string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load configured plugins and serve MCP over the chosen transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides := config.Overrides{
				Transport:   transport,
				BindAddress: bindAddress,
				RekorPubKeys: rekorPubKeys,
				FulcioCerts:  fulcioCerts,
				CertIssuer:   certIssuer,
				CertEmail:    certEmail,
				CertURL:      certURL,
			}
			if cmd.Flags().Changed("insecure-skip-signature") {
				overrides.InsecureSkipSignature = &insecureSkipSignature
			}
			if cmd.Flags().Changed("use-sigstore-tuf-data") {
				overrides.UseSigstoreTUFData = &useSigstoreTUFData
			}

			code := run(cmd.Context(), configFile, overrides)
			if code != exitOK {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config-file", "hyper-mcp.yaml", "Path to the runtime configuration file")
	cmd.Flags().StringVar(&transport, "transport", "", "Override the config file's transport (stdio, sse, streamable-http)")
	cmd.Flags().StringVar(&bindAddress, "bind-address", "", "Override the config file's bind address")
	cmd.Flags().BoolVar(&insecureSkipSignature, "insecure-skip-signature", false, "Skip signature verification for oci:// plugins")
	cmd.Flags().BoolVar(&useSigstoreTUFData, "use-sigstore-tuf-data", false, "Verify signatures against Sigstore's public-good TUF root")
	cmd.Flags().StringVar(&rekorPubKeys, "rekor-pub-keys", "", "PEM bundle of Rekor transparency log public keys")
	cmd.Flags().StringVar(&fulcioCerts, "fulcio-certs", "", "PEM bundle of Fulcio CA certificates")
	cmd.Flags().StringVar(&certIssuer, "cert-issuer", "", "Required Fulcio certificate OIDC issuer")
	cmd.Flags().StringVar(&certEmail, "cert-email", "", "Required Fulcio certificate identity email")
	cmd.Flags().StringVar(&certURL, "cert-url", "", "Required Fulcio certificate identity URL")

	return cmd
}

func run(ctx context.Context, configFile string, overrides config.Overrides) int {
	cfg, err := config.Load(configFile, overrides)
	if err != nil {
		hlog.Error("loading configuration", "err", err)
		return exitConfigError
	}

	f := fetch.New("hyper-mcp/"+version, 30*time.Second, nil)
	reg := registry.New()
	d := dispatcher.New(reg)
	ld := &loader.Loader{
		Fetcher:      f,
		Auths:        fetch.AuthTable(cfg.Auths),
		VerifyPolicy: cfg.Verification,
		Dispatcher:   d,
	}

	gs := gatewayserver.New("hyper-mcp", version, d)
	d.SetNotifier(gs)

	loadCtx, loadCancel := context.WithTimeout(ctx, 2*time.Minute)
	errs := reg.Reconcile(loadCtx, cfg.Plugins, ld.Load)
	loadCancel()
	for _, e := range errs {
		hlog.Error("loading plugin", "err", e)
		var vf *hmcperr.VerificationFailed
		if errors.As(e, &vf) {
			return exitVerificationFail
		}
	}

	if err := gs.Sync(ctx); err != nil {
		hlog.Error("syncing gateway server", "err", err)
		return exitConfigError
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Transport {
	case config.TransportStdio:
		if err := gs.Run(runCtx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			hlog.Error("stdio transport exited", "err", err)
			return exitBindFailure
		}
	case config.TransportStreamableHTTP:
		ln, err := net.Listen("tcp", cfg.BindAddress)
		if err != nil {
			hlog.Error("binding streamable-http transport", "addr", cfg.BindAddress, "err", err)
			return exitBindFailure
		}
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return gs.MCPServer() }, nil)
		httpServer := &http.Server{Handler: handler}
		go func() {
			<-runCtx.Done()
			httpServer.Close()
		}()
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hlog.Error("streamable-http transport exited", "err", err)
			return exitBindFailure
		}
	case config.TransportSSE:
		ln, err := net.Listen("tcp", cfg.BindAddress)
		if err != nil {
			hlog.Error("binding sse transport", "addr", cfg.BindAddress, "err", err)
			return exitBindFailure
		}
		handler := mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return gs.MCPServer() })
		httpServer := &http.Server{Handler: handler}
		go func() {
			<-runCtx.Done()
			httpServer.Close()
		}()
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hlog.Error("sse transport exited", "err", err)
			return exitBindFailure
		}
	default:
		hlog.Error("unknown transport", "transport", cfg.Transport)
		return exitConfigError
	}

	for _, p := range reg.Plugins() {
		p.Close(context.Background())
	}
	return exitOK
}
