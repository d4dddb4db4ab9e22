// gpuflowctl is a small client for the gpuflow API: account setup, job
// submission and fleet inspection from the command line.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiBase   string
	authToken string
)

func main() {
	root := &cobra.Command{
		Use:           "gpuflowctl",
		Short:         "Client for the gpuflow job dispatch API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", envOr("GPUFLOW_API", "http://localhost:8000"), "API server base URL")
	root.PersistentFlags().StringVar(&authToken, "token", os.Getenv("GPUFLOW_TOKEN"), "session token (or GPUFLOW_TOKEN)")

	root.AddCommand(newSignupCmd(), newLoginCmd(), newJobCmd(), newMachineCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newSignupCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "signup <email> <password>",
		Short: "Register a new user account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodPost, "/api/v1/users", map[string]string{
				"email": args[0], "password": args[1], "name": name,
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <email> <password>",
		Short: "Log in and print a session token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodPost, "/api/v1/login", map[string]string{
				"email": args[0], "password": args[1],
			})
		},
	}
}

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit and inspect jobs",
	}

	var codeFile string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job from a code file (or stdin with -)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var code []byte
			var err error
			if codeFile == "" || codeFile == "-" {
				code, err = io.ReadAll(cmd.InOrStdin())
			} else {
				code, err = os.ReadFile(codeFile)
			}
			if err != nil {
				return fmt.Errorf("read code: %w", err)
			}
			return call(cmd.OutOrStdout(), http.MethodPost, "/api/v1/jobs", map[string]string{
				"code": string(code),
			})
		},
	}
	submit.Flags().StringVarP(&codeFile, "file", "f", "-", "file with the serialized function to run")

	list := &cobra.Command{
		Use:   "list",
		Short: "List your jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd.OutOrStdout(), http.MethodGet, "/api/v1/jobs", nil)
		},
	}

	get := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodGet, "/api/v1/jobs/"+args[0], nil)
		},
	}

	cmd.AddCommand(submit, list, get)
	return cmd
}

func newMachineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machine",
		Short: "Register and inspect machines",
	}

	var description, deviceID string
	register := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a machine and print its auth token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodPost, "/api/v1/machines", map[string]string{
				"name": args[0], "description": description, "device_id": deviceID,
			})
		},
	}
	register.Flags().StringVar(&description, "description", "", "machine description")
	register.Flags().StringVar(&deviceID, "device-id", "", "hardware fingerprint (generated if empty)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List your machines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd.OutOrStdout(), http.MethodGet, "/api/v1/machines", nil)
		},
	}

	cmd.AddCommand(register, list)
	return cmd
}

// call performs one API request and pretty-prints the JSON response.
func call(w io.Writer, method, path string, body any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, apiBase+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		raw = pretty.Bytes()
	}
	fmt.Fprintln(w, string(bytes.TrimSpace(raw)))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
