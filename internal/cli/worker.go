package cli

import (
	"context"
	"errors"

	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"github.com/iliyamo/storefront/internal/config"
	"github.com/iliyamo/storefront/internal/mail"
	"github.com/iliyamo/storefront/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Deliver queued mail jobs over SMTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		smtp := config.LoadSMTP()
		if smtp.Host == "" {
			return errors.New("SMTP_HOST is required for the mail worker")
		}
		sender := mail.NewSMTPSender(smtp.Host, smtp.Port, smtp.Username, smtp.Password, smtp.From)
		url := config.RabbitURL()
		log.Infof("mail worker consuming from %s", redactURL(url))
		err := queue.StartMailConsumer(cmd.Context(), url, sender)
		if errors.Is(err, context.Canceled) {
			log.Info("mail worker stopped")
			return nil
		}
		return err
	},
}
