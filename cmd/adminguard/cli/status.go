package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check if the adminguard server is running and ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Server base URL (default: from server.host and server.port)")

	return cmd
}

func runStatus(addr string) error {
	if addr == "" {
		fc, err := loadConfig()
		if err != nil {
			return err
		}
		host := fc.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		scheme := "http"
		if fc.Server.TLS.Enabled {
			scheme = "https"
		}
		addr = fmt.Sprintf("%s://%s:%d", scheme, host, fc.Server.Port)
	}

	readyAddr := addr + "/readyz"
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(readyAddr)
	if err != nil {
		fmt.Printf("Server is not responding at %s.\n", addr)
		return nil
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Server is running but not ready (%d)\n", resp.StatusCode)
	} else {
		fmt.Println("Server is running and ready")
	}
	fmt.Printf("  Ready:  %s (%d)\n", readyAddr, resp.StatusCode)
	if v, ok := body["status"]; ok {
		fmt.Printf("  Status: %v\n", v)
	}
	return nil
}
