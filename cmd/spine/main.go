package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/spine/internal/client"
	"github.com/alfredjeanlab/spine/internal/ui"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	jsonOutput bool
	tenantID   string
	authToken  string

	spineClient client.ActivityClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("SPINE_HTTP_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultServer() string {
	if s := os.Getenv("SPINE_SERVER"); s != "" {
		return s
	}
	if a := activeRemoteGRPCAddr(); a != "" {
		return a
	}
	return "localhost:9090"
}

func defaultToken() string {
	if s := os.Getenv("SPINE_AUTH_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

func defaultTenant() string {
	if s := os.Getenv("SPINE_TENANT"); s != "" {
		return s
	}
	return activeRemoteTenant()
}

var rootCmd = &cobra.Command{
	Use:           "spine <command>",
	Short:         "Activity event spine server and client",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		c, err := newClient(transport, httpURL, serverAddr, authToken)
		if err != nil {
			return err
		}
		spineClient = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if spineClient != nil {
			spineClient.Close()
		}
	},
}

func newClient(transport, httpURL, serverAddr, token string) (client.ActivityClient, error) {
	switch transport {
	case "http":
		return client.NewHTTPClient(httpURL, token), nil
	case "grpc":
		c, err := client.NewGRPCClient(serverAddr, token)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
	}
}

// requireTenant returns the --tenant value or an error naming the flag.
func requireTenant() (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("--tenant (or SPINE_TENANT) is required")
	}
	return tenantID, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer(), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", defaultTenant(), "tenant the command acts on")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token for authentication")

	rootCmd.AddGroup(
		&cobra.Group{ID: "activities", Title: "Activities:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Activities
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
