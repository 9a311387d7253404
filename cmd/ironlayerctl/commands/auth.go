package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// NewAuthCommand returns the `ironlayerctl auth` command group.
func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Sign up or log in to a tenant",
	}
	cmd.AddCommand(newAuthSignupCommand())
	cmd.AddCommand(newAuthLoginCommand())
	return cmd
}

func newAuthSignupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a tenant and its first user",
		RunE:  runAuthSignup,
	}
	cmd.Flags().String("tenant", "", "tenant ID to create or join (required)")
	cmd.Flags().String("username", "", "username for the new account (required)")
	cmd.Flags().String("password", "", "password for the new account (required)")
	cmd.Flags().String("display-name", "", "display name for the new account")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func runAuthSignup(cmd *cobra.Command, args []string) error {
	client, err := clientFromCommand(cmd)
	if err != nil {
		return err
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	displayName, _ := cmd.Flags().GetString("display-name")

	var resp authResponse
	err = client.post(cmd.Context(), "/auth/signup", map[string]string{
		"tenant_id":    tenant,
		"username":     username,
		"password":     password,
		"display_name": displayName,
	}, &resp)
	if err != nil {
		return err
	}
	return printToken(cmd, resp)
}

func newAuthLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an access token for an existing account",
		RunE:  runAuthLogin,
	}
	cmd.Flags().String("tenant", "", "tenant ID (required)")
	cmd.Flags().String("username", "", "username (required)")
	cmd.Flags().String("password", "", "password (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	client, err := clientFromCommand(cmd)
	if err != nil {
		return err
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")

	var resp authResponse
	err = client.post(cmd.Context(), "/auth/login", map[string]string{
		"tenant_id": tenant,
		"username":  username,
		"password":  password,
	}, &resp)
	if err != nil {
		return err
	}
	return printToken(cmd, resp)
}

// printToken prints the issued access token. There is no local credential
// store (every other subcommand expects --api-key or IRONLAYER_API_KEY to
// already be set), so the token is just echoed for the caller to export.
func printToken(cmd *cobra.Command, resp authResponse) error {
	if jsonOutput(cmd) {
		return PrintJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.AccessToken)
	fmt.Fprintf(os.Stderr, "token expires in %ds; export IRONLAYER_API_KEY=<token> or pass --api-key\n", resp.ExpiresIn)
	return nil
}
