package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/chainflow/core/auth"
	"github.com/AvaProtocol/chainflow/core/config"
)

type serviceTokenOption struct {
	subject string
	ttl     time.Duration
}

var (
	tokenOpt              = serviceTokenOption{}
	createServiceTokenCmd = &cobra.Command{
		Use:   "create-service-token",
		Short: "Sign a token the session service accepts from this worker",
		Long: `Sign a bearer token with wallet.signing_secret for the given user, the
same way the worker authenticates its session service calls. Useful to
debug the session service by hand.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.NewConfig(configPath)
			if err != nil {
				return err
			}
			token, err := auth.SignServiceToken([]byte(c.Wallet.SigningSecret), tokenOpt.subject, tokenOpt.ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
)

func init() {
	createServiceTokenCmd.Flags().StringVarP(&tokenOpt.subject, "subject", "s", "", "user id the token acts for")
	createServiceTokenCmd.Flags().DurationVar(&tokenOpt.ttl, "ttl", time.Hour, "token lifetime")
	createServiceTokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(createServiceTokenCmd)
}
